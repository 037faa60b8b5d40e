package errors

import (
	"crypto/x509"
	"encoding/json"
	"errors"
)

// Error is the error type usually returned by functions in the cfsmime
// packages. It contains a 4-digit error code where the most significant
// digit describes the category where the error occurred and the rest 3
// digits describe the specific error reason.
type Error struct {
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`

	err error
}

// Category is the error category as the most significant digit of the error code.
type Category int

// Reason is the error reason as the last 3 digits of the error code.
type Reason int

const (
	Success            Category = 1000 * iota // 0XXX
	CertificateError                          // 1XXX
	PrivateKeyError                           // 2XXX
	IntermediatesError                        // 3XXX
	RootError                                 // 4XXX
	ArgumentError                             // 5XXX
	CertStoreError                            // 6XXX
	CMSError                                  // 7XXX
	DKIMError                                 // 8XXX
	CRLError                                  // 9XXX
)

// Non-specified error
const (
	None Reason = iota
)

// Parsing errors
const (
	Unknown      Reason = iota // X000
	ReadFailed                 // X001
	DecodeFailed               // X002
	ParseFailed                // X003
)

// Certificate non-parsing errors, must be specified along with CertificateError
const (
	// Code 11XX
	SelfSigned Reason = 100 * (iota + 1)
	// Code 12XX
	// The least two significant digits of 12XX is determined as the actual x509 error is examined.
	VerifyFailed
	// Returned on bad certificate request
	BadRequest
	// Code 14XX, no certificate matched the mailbox or selector
	NotFound
	Expired
	Revoked
)

const (
	certificateInvalid = 10 * (iota + 1) //121X
	unknownAuthority                     //122x
)

// Private key non-parsing errors, must be specified with PrivateKeyError
const (
	Encrypted          Reason = 100 * (iota + 1) //21XX
	UnsupportedKeyType                           //22XX
	KeyMismatch                                  //23XX
	KeyNotFound                                  //24XX
)

// Argument validation errors, must be specified with ArgumentError
const (
	NullArgument    Reason = 100 * (iota + 1) // 51XX
	OutOfRange                                // 52XX
	InvalidArgument                           // 53XX
)

// Certificate database errors, must be specified with CertStoreError
const (
	DatabaseInitializationFailed Reason = 100 * (iota + 1) // 61XX
	InsertionFailed                                        // 62XX
	RecordNotFound                                         // 63XX
	DuplicateEntry                                         // 64XX
	MigrationFailed                                        // 65XX
	QueryFailed                                            // 66XX
)

// Cryptographic operation errors, specified with CMSError or DKIMError
const (
	UnsupportedAlgorithm Reason = 100 * (iota + 1) // X1XX
	SignFailed                                     // X2XX
	SignatureInvalid                               // X3XX
	EncryptFailed                                  // X4XX
	DecryptFailed                                  // X5XX
	NoRecipient                                    // X6XX
	KeyLookupFailed                                // X7XX
	UnsupportedQuery                               // X8XX
	BodyHashMismatch                               // X9XX
)

// The error interface implementation, which formats to a JSON object string.
func (e *Error) Error() string {
	marshaled, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return string(marshaled)

}

// Unwrap returns the error passed to Wrap, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code, so
// errors.Is(err, New(category, reason)) matches regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.ErrorCode == e.ErrorCode
}

// Category returns the category part of the error code.
func (e *Error) Category() Category {
	return Category(e.ErrorCode / 1000 * 1000)
}

// Reason returns the reason part of the error code, with the x509
// detail digits of certificate verification errors stripped.
func (e *Error) Reason() Reason {
	r := e.ErrorCode % 1000
	if r >= 100 {
		r = r / 100 * 100
	}
	return Reason(r)
}

// New returns an error that contains an error code and message derived from
// the given category and reason. Currently, to avoid confusion, it is not
// allowed to create an error of category Success
func New(category Category, reason Reason) *Error {
	errorCode := int(category) + int(reason)
	var msg string
	switch category {
	case CertificateError:
		msg = "Unknown certificate error"
		switch reason {
		case DecodeFailed:
			msg = "Failed to decode certificate"
		case ParseFailed:
			msg = "Failed to parse certificate"
		case SelfSigned:
			msg = "Certificate is self signed"
		case VerifyFailed:
			msg = "Unable to verify certificate"
		case NotFound:
			msg = "Certificate not found"
		case Expired:
			msg = "Certificate is expired"
		case Revoked:
			msg = "Certificate is revoked"
		}
	case PrivateKeyError:
		msg = "Unknown private key error"
		switch reason {
		case DecodeFailed:
			msg = "Failed to decode private key"
		case ParseFailed:
			msg = "Failed to parse private key"
		case Encrypted:
			msg = "Private key is encrypted"
		case UnsupportedKeyType:
			msg = "Private key algorithm is not RSA, DSA or ECC"
		case KeyMismatch:
			msg = "Private key does not match public key"
		case KeyNotFound:
			msg = "Private key not found"
		}
	case IntermediatesError:
		msg = "Unknown intermediate certificate error"
	case RootError:
		msg = "Unknown root certificate error"
	case ArgumentError:
		msg = "Invalid argument"
		switch reason {
		case NullArgument:
			msg = "Required argument is missing"
		case OutOfRange:
			msg = "Argument is out of range"
		}
	case CertStoreError:
		msg = "Certificate store error"
		switch reason {
		case DatabaseInitializationFailed:
			msg = "Failed to initialize certificate database"
		case InsertionFailed:
			msg = "Failed to insert record"
		case RecordNotFound:
			msg = "Record not found"
		case DuplicateEntry:
			msg = "Record already exists"
		case MigrationFailed:
			msg = "Failed to migrate certificate database"
		}
	case CMSError:
		msg = "Unknown CMS error"
		switch reason {
		case DecodeFailed, ParseFailed:
			msg = "Failed to parse CMS structure"
		case UnsupportedAlgorithm:
			msg = "Unsupported algorithm"
		case SignatureInvalid:
			msg = "Signature is invalid"
		case DecryptFailed:
			msg = "Failed to decrypt content"
		case NoRecipient:
			msg = "No matching recipient"
		}
	case DKIMError:
		msg = "Unknown DKIM error"
		switch reason {
		case ParseFailed:
			msg = "Failed to parse DKIM record"
		case UnsupportedAlgorithm:
			msg = "Unsupported DKIM key algorithm"
		case UnsupportedQuery:
			msg = "Unsupported DKIM query method"
		case SignatureInvalid:
			msg = "DKIM signature is invalid"
		case BodyHashMismatch:
			msg = "DKIM body hash does not match"
		case KeyLookupFailed:
			msg = "DKIM public key lookup failed"
		}
	case CRLError:
		msg = "Unknown CRL error"
		switch reason {
		case DecodeFailed, ParseFailed:
			msg = "Failed to parse CRL"
		}
	default:
		panic(errors.New("unsupported cfsmime error type"))
	}
	return &Error{ErrorCode: errorCode, Message: msg}
}

// Wrap returns an error that contains the given error and an error code derived from
// the given category, reason and the error. Currently, to avoid confusion, it is not
// allowed to create an error of category Success
func Wrap(category Category, reason Reason, err error) *Error {
	if err == nil {
		return New(category, reason)
	}
	if category == Success {
		panic(errors.New("unsupported cfsmime error type"))
	}
	errorCode := int(category) + int(reason)
	if category == CertificateError {
		// Report the status with a more detailed status code
		// for some certificate errors we care about.
		var invalid x509.CertificateInvalidError
		var unknown x509.UnknownAuthorityError
		switch {
		case errors.As(err, &invalid):
			errorCode += certificateInvalid + int(invalid.Reason)
		case errors.As(err, &unknown):
			errorCode += unknownAuthority
		}
	}
	return &Error{ErrorCode: errorCode, Message: err.Error(), err: err}
}

func hasReason(err error, category Category, reasons ...Reason) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if category != Success && e.Category() != category {
		return false
	}
	for _, r := range reasons {
		if e.Reason() == r {
			return true
		}
	}
	return false
}

// IsArgument reports whether err is an argument validation error.
func IsArgument(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category() == ArgumentError
}

// IsNotFound reports whether err means no certificate, key or record matched.
func IsNotFound(err error) bool {
	return hasReason(err, CertificateError, NotFound) ||
		hasReason(err, PrivateKeyError, KeyNotFound) ||
		hasReason(err, CertStoreError, RecordNotFound) ||
		hasReason(err, CMSError, NoRecipient)
}

// IsParse reports whether err is a decode or parse failure of any category.
func IsParse(err error) bool {
	return hasReason(err, Success, DecodeFailed, ParseFailed)
}

// IsUnsupported reports whether err is an unsupported algorithm, key
// type or query method.
func IsUnsupported(err error) bool {
	return hasReason(err, CMSError, UnsupportedAlgorithm) ||
		hasReason(err, DKIMError, UnsupportedAlgorithm, UnsupportedQuery) ||
		hasReason(err, PrivateKeyError, UnsupportedKeyType)
}

// IsKeyMismatch reports whether err is a private key that does not
// correspond to its certificate.
func IsKeyMismatch(err error) bool {
	return hasReason(err, PrivateKeyError, KeyMismatch)
}
