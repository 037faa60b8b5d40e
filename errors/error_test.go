package errors

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CertificateError, Unknown)
	if err == nil {
		t.Fatal("Error creation failed.")
	}
	if err.ErrorCode != int(CertificateError)+int(Unknown) {
		t.Fatal("Error code construction failed.")
	}
	if err.Message != "Unknown certificate error" {
		t.Fatal("Error message construction failed.")
	}

	err = New(CertificateError, NotFound)
	if err.Message != "Certificate not found" {
		t.Fatal("Error message construction failed:", err.Message)
	}
}

func TestNewSuccessPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for the Success category")
		}
	}()
	New(Success, None)
}

func TestWrap(t *testing.T) {
	msg := "Arbitrary error message"
	inner := errors.New(msg)
	err := Wrap(CertificateError, Unknown, inner)
	if err == nil {
		t.Fatal("Error creation failed.")
	}
	if err.ErrorCode != int(CertificateError)+int(Unknown) {
		t.Fatal("Error code construction failed.")
	}
	if err.Message != msg {
		t.Fatal("Error message construction failed.")
	}
	if !errors.Is(err, inner) {
		t.Fatal("wrapped error is not reachable")
	}
}

func TestWrapCertificateVerifyError(t *testing.T) {
	err := Wrap(CertificateError, VerifyFailed, x509.CertificateInvalidError{Reason: x509.Expired})
	if err.ErrorCode != 1000+200+10+int(x509.Expired) {
		t.Fatal("Incorrect error code:", err.ErrorCode)
	}
	if err.Reason() != VerifyFailed {
		t.Fatal("Incorrect reason:", err.Reason())
	}
	if err.Category() != CertificateError {
		t.Fatal("Incorrect category:", err.Category())
	}
}

func TestMarshal(t *testing.T) {
	msg := "Arbitrary error message"
	err := Wrap(CertificateError, Unknown, errors.New(msg))
	bytes, _ := json.Marshal(err)
	var received Error
	json.Unmarshal(bytes, &received)
	if received.ErrorCode != int(CertificateError)+int(Unknown) {
		t.Fatal("Error code construction failed.")
	}
	if received.Message != msg {
		t.Fatal("Error message construction failed.")
	}
}

func TestErrorString(t *testing.T) {
	msg := "Arbitrary error message"
	err := Wrap(CertificateError, Unknown, errors.New(msg))
	str := err.Error()
	if str != `{"code":1000,"message":"`+msg+`"}` {
		t.Fatal("Incorrect Error():", str)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("lookup alice: %w", Wrap(CertificateError, NotFound, errors.New("no match for alice@example.com")))
	if !errors.Is(err, New(CertificateError, NotFound)) {
		t.Fatal("errors.Is should match on code")
	}
	if errors.Is(err, New(PrivateKeyError, KeyNotFound)) {
		t.Fatal("errors.Is matched a different code")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		err         error
		argument    bool
		notFound    bool
		parse       bool
		unsupported bool
		mismatch    bool
	}{
		{err: New(ArgumentError, NullArgument), argument: true},
		{err: New(ArgumentError, OutOfRange), argument: true},
		{err: New(CertificateError, NotFound), notFound: true},
		{err: New(PrivateKeyError, KeyNotFound), notFound: true},
		{err: New(CertStoreError, RecordNotFound), notFound: true},
		{err: New(CMSError, NoRecipient), notFound: true},
		{err: New(DKIMError, ParseFailed), parse: true},
		{err: New(CRLError, DecodeFailed), parse: true},
		{err: New(CMSError, UnsupportedAlgorithm), unsupported: true},
		{err: New(DKIMError, UnsupportedQuery), unsupported: true},
		{err: New(PrivateKeyError, KeyMismatch), mismatch: true},
		{err: errors.New("plain")},
	}

	for _, tc := range tests {
		if IsArgument(tc.err) != tc.argument {
			t.Errorf("IsArgument(%v) = %v", tc.err, !tc.argument)
		}
		if IsNotFound(tc.err) != tc.notFound {
			t.Errorf("IsNotFound(%v) = %v", tc.err, !tc.notFound)
		}
		if IsParse(tc.err) != tc.parse {
			t.Errorf("IsParse(%v) = %v", tc.err, !tc.parse)
		}
		if IsUnsupported(tc.err) != tc.unsupported {
			t.Errorf("IsUnsupported(%v) = %v", tc.err, !tc.unsupported)
		}
		if IsKeyMismatch(tc.err) != tc.mismatch {
			t.Errorf("IsKeyMismatch(%v) = %v", tc.err, !tc.mismatch)
		}
	}
}
