package ledger

import "fmt"

// AssetKind discriminates the two transferable asset variants.
type AssetKind uint8

const (
	// AssetNative is the chain's native value, moved by attaching value
	// to the call that needs it.
	AssetNative AssetKind = iota

	// AssetToken is a fungible-token contract, moved through an
	// allowance-based pull or a direct push.
	AssetToken
)

// Asset identifies a ledger partition: either native value or a reference
// to a fungible-token contract. Comparable, used as a map key throughout.
type Asset struct {
	Kind  AssetKind
	Token string // contract reference, empty for native
}

// Native returns the native-value asset.
func Native() Asset {
	return Asset{Kind: AssetNative}
}

// Token returns an asset referencing a fungible-token contract.
func Token(contract string) Asset {
	return Asset{Kind: AssetToken, Token: contract}
}

func (a Asset) IsNative() bool {
	return a.Kind == AssetNative
}

// Validate rejects malformed asset identifiers.
func (a Asset) Validate() error {
	switch a.Kind {
	case AssetNative:
		if a.Token != "" {
			return fmt.Errorf("native asset carries token reference %q", a.Token)
		}
	case AssetToken:
		if a.Token == "" {
			return fmt.Errorf("token asset has empty contract reference")
		}
	default:
		return fmt.Errorf("unknown asset kind: %d", a.Kind)
	}
	return nil
}

// String renders the asset for account paths, logs, and storage.
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return "token:" + a.Token
}

// ParseAsset is the inverse of String.
func ParseAsset(s string) (Asset, error) {
	if s == "native" {
		return Native(), nil
	}
	const prefix = "token:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return Token(s[len(prefix):]), nil
	}
	return Asset{}, fmt.Errorf("unparseable asset: %q", s)
}
