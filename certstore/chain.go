package certstore

import (
	"crypto/x509"
	"fmt"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// Chain is an ordered, mutable sequence of certificates. The order is
// chosen by the caller; Bundle results are leaf first.
type Chain struct {
	certs []*x509.Certificate
}

// NewChain returns a chain holding certs in order.
func NewChain(certs ...*x509.Certificate) (*Chain, error) {
	c := &Chain{}
	if err := c.AddRange(certs); err != nil {
		return nil, err
	}
	return c, nil
}

func nullCertificate() error {
	return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, fmt.Errorf("certificate is nil"))
}

func outOfRange(index, max int) error {
	return cferr.Wrap(cferr.ArgumentError, cferr.OutOfRange, fmt.Errorf("index %d out of range [0, %d]", index, max))
}

// Count returns the number of certificates in the chain.
func (c *Chain) Count() int {
	return len(c.certs)
}

// Add appends cert.
func (c *Chain) Add(cert *x509.Certificate) error {
	if cert == nil {
		return nullCertificate()
	}
	c.certs = append(c.certs, cert)
	return nil
}

// AddRange appends every certificate of certs; nothing is added if
// any of them is nil.
func (c *Chain) AddRange(certs []*x509.Certificate) error {
	for _, cert := range certs {
		if cert == nil {
			return nullCertificate()
		}
	}
	c.certs = append(c.certs, certs...)
	return nil
}

// Insert places cert at index, shifting later certificates.
// index may equal Count.
func (c *Chain) Insert(index int, cert *x509.Certificate) error {
	if cert == nil {
		return nullCertificate()
	}
	if index < 0 || index > len(c.certs) {
		return outOfRange(index, len(c.certs))
	}
	c.certs = append(c.certs, nil)
	copy(c.certs[index+1:], c.certs[index:])
	c.certs[index] = cert
	return nil
}

// Get returns the certificate at index.
func (c *Chain) Get(index int) (*x509.Certificate, error) {
	if index < 0 || index >= len(c.certs) {
		return nil, outOfRange(index, len(c.certs)-1)
	}
	return c.certs[index], nil
}

// IndexOf returns the index of the first certificate equal to cert,
// or -1.
func (c *Chain) IndexOf(cert *x509.Certificate) int {
	if cert == nil {
		return -1
	}
	for i, have := range c.certs {
		if have.Equal(cert) {
			return i
		}
	}
	return -1
}

// Contains reports whether cert is in the chain.
func (c *Chain) Contains(cert *x509.Certificate) bool {
	return c.IndexOf(cert) >= 0
}

// RemoveAt removes the certificate at index.
func (c *Chain) RemoveAt(index int) error {
	if index < 0 || index >= len(c.certs) {
		return outOfRange(index, len(c.certs)-1)
	}
	c.certs = append(c.certs[:index], c.certs[index+1:]...)
	return nil
}

// Remove removes the first certificate equal to cert and reports
// whether one was found.
func (c *Chain) Remove(cert *x509.Certificate) (bool, error) {
	if cert == nil {
		return false, nullCertificate()
	}
	i := c.IndexOf(cert)
	if i < 0 {
		return false, nil
	}
	return true, c.RemoveAt(i)
}

// RemoveRange removes each certificate of certs that is present.
func (c *Chain) RemoveRange(certs []*x509.Certificate) error {
	for _, cert := range certs {
		if cert == nil {
			return nullCertificate()
		}
	}
	for _, cert := range certs {
		if _, err := c.Remove(cert); err != nil {
			return err
		}
	}
	return nil
}

// CopyTo copies the chain into dst starting at index. dst must have
// room for Count certificates after index.
func (c *Chain) CopyTo(dst []*x509.Certificate, index int) error {
	if dst == nil {
		return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, fmt.Errorf("destination is nil"))
	}
	if index < 0 || index > len(dst) || len(dst)-index < len(c.certs) {
		return outOfRange(index, len(dst)-len(c.certs))
	}
	copy(dst[index:], c.certs)
	return nil
}

// Certificates returns a copy of the chain as a slice.
func (c *Chain) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), c.certs...)
}
