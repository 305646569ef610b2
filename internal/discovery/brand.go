package discovery

// BrandRule pairs a provider flag with a display name. Rules are
// evaluated in order; the first flag present on the provider wins.
type BrandRule struct {
	Flag string
	Name string
}

// DefaultEVMBrands is the built-in identification table for injected
// EVM providers. Order matters: wallets commonly set several flags at
// once, so the most specific flags come first.
var DefaultEVMBrands = []BrandRule{
	{Flag: "isRabby", Name: "Rabby"},
	{Flag: "isBraveWallet", Name: "Brave Wallet"},
	{Flag: "isCoinbaseWallet", Name: "Coinbase Wallet"},
	{Flag: "isTrust", Name: "Trust Wallet"},
	{Flag: "isOkxWallet", Name: "OKX Wallet"},
	{Flag: "isMetaMask", Name: "MetaMask"},
}

// UnknownEVMBrand is the fallback label when no flag matches.
const UnknownEVMBrand = "Unknown EVM Wallet"

// IdentifyBrand resolves a display name from provider flags using the
// ordered rule table, falling back to the given label.
func IdentifyBrand(flags map[string]bool, rules []BrandRule, fallback string) string {
	for _, rule := range rules {
		if flags[rule.Flag] {
			return rule.Name
		}
	}
	return fallback
}
