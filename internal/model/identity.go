package model

import "strconv"

// IdentityKind distinguishes authenticated accounts from anonymous devices.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityAnonymous     IdentityKind = "anonymous"
)

// Identity is the current actor: an account or a device, never both.
type Identity struct {
	Kind      IdentityKind `json:"kind"`
	AccountID string       `json:"accountId,omitempty"`
	DeviceID  string       `json:"deviceId,omitempty"`
}

func Authenticated(accountID string) Identity {
	return Identity{Kind: IdentityAuthenticated, AccountID: accountID}
}

func Anonymous(deviceID string) Identity {
	return Identity{Kind: IdentityAnonymous, DeviceID: deviceID}
}

func (i Identity) IsAuthenticated() bool {
	return i.Kind == IdentityAuthenticated
}

// OwnerID is the storage owner key for the identity's partition.
func (i Identity) OwnerID() string {
	if i.IsAuthenticated() {
		return i.AccountID
	}
	return i.DeviceID
}

// Key identifies the actor across both variants, e.g. "anonymous:<device>".
// Two identities denote the same actor iff their keys are equal.
func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.OwnerID()
}

func (i Identity) IsZero() bool {
	return i.Kind == "" && i.AccountID == "" && i.DeviceID == ""
}

// Remaining is the number of free generations left. Unlimited is set for
// authenticated identities and Count is then meaningless.
type Remaining struct {
	Count     int
	Unlimited bool
}

func (r Remaining) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(r.Count)
}

// Exhausted reports whether no free generation is left.
func (r Remaining) Exhausted() bool {
	return !r.Unlimited && r.Count <= 0
}

// MarshalJSON encodes a number, or the string "unlimited".
func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.Itoa(r.Count)), nil
}
