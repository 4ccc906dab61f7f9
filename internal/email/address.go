package email

import (
	"fmt"
	"net/mail"
	"strings"
)

// AddressParser turns a raw address string into a mailbox. The default is
// net/mail.ParseAddress.
type AddressParser func(address string) (*mail.Address, error)

// AddressRegistry holds the From, Reply-To, To, Cc and Bcc addresses of a
// message. Recipient lists keep insertion order; From is a single slot where
// the last write wins.
type AddressRegistry struct {
	parse AddressParser

	from    *mail.Address
	replyTo []*mail.Address
	to      []*mail.Address
	cc      []*mail.Address
	bcc     []*mail.Address
}

// NewAddressRegistry creates an empty registry. A nil parser selects
// net/mail.ParseAddress.
func NewAddressRegistry(parse AddressParser) *AddressRegistry {
	if parse == nil {
		parse = mail.ParseAddress
	}
	return &AddressRegistry{parse: parse}
}

// newAddress validates address and applies name as the display name when it
// is not empty. The display name is not validated.
func (r *AddressRegistry) newAddress(name, address string) (*mail.Address, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}

	parsed, err := r.parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if parsed == nil || parsed.Address == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	addr := &mail.Address{Name: parsed.Name, Address: parsed.Address}
	if name != "" {
		addr.Name = name
	}
	return addr, nil
}

func (r *AddressRegistry) add(list *[]*mail.Address, name, address string) (*mail.Address, error) {
	addr, err := r.newAddress(name, address)
	if err != nil {
		return nil, err
	}
	*list = append(*list, addr)
	return copyAddress(addr), nil
}

// addList applies add to each address in turn. Addresses added before a
// failure stay in place.
func (r *AddressRegistry) addList(list *[]*mail.Address, addresses []string) error {
	for _, address := range addresses {
		if _, err := r.add(list, "", address); err != nil {
			return err
		}
	}
	return nil
}

// SetFrom sets the sender address.
func (r *AddressRegistry) SetFrom(address string) (*mail.Address, error) {
	return r.SetFromFormat("", address)
}

// SetFromFormat sets the sender address with a display name.
func (r *AddressRegistry) SetFromFormat(name, address string) (*mail.Address, error) {
	addr, err := r.newAddress(name, address)
	if err != nil {
		return nil, err
	}
	r.from = addr
	return copyAddress(addr), nil
}

// FromAddress returns the sender or ErrMissingFrom.
func (r *AddressRegistry) FromAddress() (*mail.Address, error) {
	if r.from == nil {
		return nil, ErrMissingFrom
	}
	return copyAddress(r.from), nil
}

// AddTo appends a To recipient.
func (r *AddressRegistry) AddTo(address string) (*mail.Address, error) {
	return r.add(&r.to, "", address)
}

// AddToFormat appends a To recipient with a display name.
func (r *AddressRegistry) AddToFormat(name, address string) (*mail.Address, error) {
	return r.add(&r.to, name, address)
}

// AddToList appends each address as a To recipient, stopping at the first
// invalid one.
func (r *AddressRegistry) AddToList(addresses ...string) error {
	return r.addList(&r.to, addresses)
}

// AddCc appends a Cc recipient.
func (r *AddressRegistry) AddCc(address string) (*mail.Address, error) {
	return r.add(&r.cc, "", address)
}

// AddCcFormat appends a Cc recipient with a display name.
func (r *AddressRegistry) AddCcFormat(name, address string) (*mail.Address, error) {
	return r.add(&r.cc, name, address)
}

// AddCcList appends each address as a Cc recipient, stopping at the first
// invalid one.
func (r *AddressRegistry) AddCcList(addresses ...string) error {
	return r.addList(&r.cc, addresses)
}

// AddBcc appends a Bcc recipient.
func (r *AddressRegistry) AddBcc(address string) (*mail.Address, error) {
	return r.add(&r.bcc, "", address)
}

// AddBccFormat appends a Bcc recipient with a display name.
func (r *AddressRegistry) AddBccFormat(name, address string) (*mail.Address, error) {
	return r.add(&r.bcc, name, address)
}

// AddBccList appends each address as a Bcc recipient, stopping at the first
// invalid one.
func (r *AddressRegistry) AddBccList(addresses ...string) error {
	return r.addList(&r.bcc, addresses)
}

// AddReplyTo appends a Reply-To address.
func (r *AddressRegistry) AddReplyTo(address string) (*mail.Address, error) {
	return r.add(&r.replyTo, "", address)
}

// AddReplyToFormat appends a Reply-To address with a display name.
func (r *AddressRegistry) AddReplyToFormat(name, address string) (*mail.Address, error) {
	return r.add(&r.replyTo, name, address)
}

// AddReplyToList appends each address as a Reply-To address, stopping at the
// first invalid one.
func (r *AddressRegistry) AddReplyToList(addresses ...string) error {
	return r.addList(&r.replyTo, addresses)
}

// SetTo replaces the To list. An empty list is rejected.
func (r *AddressRegistry) SetTo(addresses []*mail.Address) error {
	return r.replace(&r.to, addresses)
}

// SetCc replaces the Cc list. An empty list is rejected.
func (r *AddressRegistry) SetCc(addresses []*mail.Address) error {
	return r.replace(&r.cc, addresses)
}

// SetBcc replaces the Bcc list. An empty list is rejected.
func (r *AddressRegistry) SetBcc(addresses []*mail.Address) error {
	return r.replace(&r.bcc, addresses)
}

// SetReplyTo replaces the Reply-To list. An empty list is rejected.
func (r *AddressRegistry) SetReplyTo(addresses []*mail.Address) error {
	return r.replace(&r.replyTo, addresses)
}

// replace validates every address before swapping the list in, so a failure
// leaves the previous list untouched.
func (r *AddressRegistry) replace(list *[]*mail.Address, addresses []*mail.Address) error {
	if len(addresses) == 0 {
		return fmt.Errorf("%w: address list is empty", ErrInvalidAddress)
	}

	next := make([]*mail.Address, 0, len(addresses))
	for _, a := range addresses {
		if a == nil {
			return fmt.Errorf("%w: nil address in list", ErrInvalidAddress)
		}
		addr, err := r.newAddress(a.Name, a.Address)
		if err != nil {
			return err
		}
		next = append(next, addr)
	}
	*list = next
	return nil
}

// ToAddresses returns a copy of the To list.
func (r *AddressRegistry) ToAddresses() []*mail.Address {
	return copyAddresses(r.to)
}

// CcAddresses returns a copy of the Cc list.
func (r *AddressRegistry) CcAddresses() []*mail.Address {
	return copyAddresses(r.cc)
}

// BccAddresses returns a copy of the Bcc list.
func (r *AddressRegistry) BccAddresses() []*mail.Address {
	return copyAddresses(r.bcc)
}

// ReplyToAddresses returns a copy of the Reply-To list.
func (r *AddressRegistry) ReplyToAddresses() []*mail.Address {
	return copyAddresses(r.replyTo)
}

// hasRecipients reports whether To, Cc or Bcc holds an address. Reply-To does
// not count.
func (r *AddressRegistry) hasRecipients() bool {
	return len(r.to)+len(r.cc)+len(r.bcc) > 0
}

func copyAddress(a *mail.Address) *mail.Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func copyAddresses(list []*mail.Address) []*mail.Address {
	if len(list) == 0 {
		return nil
	}
	out := make([]*mail.Address, len(list))
	for i, a := range list {
		out[i] = copyAddress(a)
	}
	return out
}

func addressStrings(list []*mail.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
