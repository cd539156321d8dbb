package domain

// Account categories assigned by the offline discovery job.
const (
	AccountCategoryDeployer   = "deployer"
	AccountCategoryEarlyBuyer = "early-buyer"
)

// TrackedAccount is a watched address with metadata from the discovery job.
// The registry replaces the whole set on reload; individual records are
// never mutated during a run.
type TrackedAccount struct {
	Address       string  // lowercase 0x-hex address
	Category      string  // AccountCategoryDeployer | AccountCategoryEarlyBuyer
	Confidence    float64 // [0, 1]
	AvgMultiplier float64 // rolling average return multiplier of past trades
}
