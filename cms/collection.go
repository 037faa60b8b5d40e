package cms

import (
	"errors"
	"fmt"

	cferr "github.com/cloudflare/cfsmime/errors"
)

func nullCertificate() error {
	return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("certificate is nil"))
}

func nullRecipient() error {
	return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("recipient is nil"))
}

func outOfRange(index, max int) error {
	return cferr.Wrap(cferr.ArgumentError, cferr.OutOfRange, fmt.Errorf("index %d out of range [0, %d]", index, max))
}

// RecipientCollection is an ordered, mutable list of recipients.
type RecipientCollection struct {
	recipients []*Recipient
}

// NewRecipientCollection returns a collection holding rs in order.
func NewRecipientCollection(rs ...*Recipient) (*RecipientCollection, error) {
	c := &RecipientCollection{}
	if err := c.AddRange(rs); err != nil {
		return nil, err
	}
	return c, nil
}

// Count returns the number of recipients.
func (c *RecipientCollection) Count() int {
	return len(c.recipients)
}

// Add appends r.
func (c *RecipientCollection) Add(r *Recipient) error {
	if r == nil {
		return nullRecipient()
	}
	c.recipients = append(c.recipients, r)
	return nil
}

// AddRange appends every recipient of rs; nothing is added if any of
// them is nil.
func (c *RecipientCollection) AddRange(rs []*Recipient) error {
	for _, r := range rs {
		if r == nil {
			return nullRecipient()
		}
	}
	c.recipients = append(c.recipients, rs...)
	return nil
}

// Insert places r at index; index may equal Count.
func (c *RecipientCollection) Insert(index int, r *Recipient) error {
	if r == nil {
		return nullRecipient()
	}
	if index < 0 || index > len(c.recipients) {
		return outOfRange(index, len(c.recipients))
	}
	c.recipients = append(c.recipients, nil)
	copy(c.recipients[index+1:], c.recipients[index:])
	c.recipients[index] = r
	return nil
}

// Get returns the recipient at index.
func (c *RecipientCollection) Get(index int) (*Recipient, error) {
	if index < 0 || index >= len(c.recipients) {
		return nil, outOfRange(index, len(c.recipients)-1)
	}
	return c.recipients[index], nil
}

// IndexOf returns the index of r, or -1.
func (c *RecipientCollection) IndexOf(r *Recipient) int {
	for i, have := range c.recipients {
		if have == r {
			return i
		}
	}
	return -1
}

// Contains reports whether r is in the collection.
func (c *RecipientCollection) Contains(r *Recipient) bool {
	return r != nil && c.IndexOf(r) >= 0
}

// RemoveAt removes the recipient at index.
func (c *RecipientCollection) RemoveAt(index int) error {
	if index < 0 || index >= len(c.recipients) {
		return outOfRange(index, len(c.recipients)-1)
	}
	c.recipients = append(c.recipients[:index], c.recipients[index+1:]...)
	return nil
}

// Remove removes r and reports whether it was present.
func (c *RecipientCollection) Remove(r *Recipient) (bool, error) {
	if r == nil {
		return false, nullRecipient()
	}
	i := c.IndexOf(r)
	if i < 0 {
		return false, nil
	}
	return true, c.RemoveAt(i)
}

// RemoveRange removes each recipient of rs that is present.
func (c *RecipientCollection) RemoveRange(rs []*Recipient) error {
	for _, r := range rs {
		if r == nil {
			return nullRecipient()
		}
	}
	for _, r := range rs {
		if _, err := c.Remove(r); err != nil {
			return err
		}
	}
	return nil
}

// CopyTo copies the collection into dst starting at index.
func (c *RecipientCollection) CopyTo(dst []*Recipient, index int) error {
	if dst == nil {
		return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("destination is nil"))
	}
	if index < 0 || index > len(dst) || len(dst)-index < len(c.recipients) {
		return outOfRange(index, len(dst)-len(c.recipients))
	}
	copy(dst[index:], c.recipients)
	return nil
}

// Recipients returns a copy of the collection as a slice.
func (c *RecipientCollection) Recipients() []*Recipient {
	return append([]*Recipient(nil), c.recipients...)
}
