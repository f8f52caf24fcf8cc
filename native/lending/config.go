package lending

import "github.com/ethereum/go-ethereum/common"

// DefaultPositionThreshold caps the open positions an account may hold on
// each side until the owner changes it.
const DefaultPositionThreshold uint64 = 10

// Config captures the runtime configuration for the lending module.
type Config struct {
	// Protocol is the module's own ledger address. It is bound into every
	// kernel and position hash and holds collateral in custody.
	Protocol common.Address
	// ProtocolToken denominates relayer and monitoring fees.
	ProtocolToken common.Address
}
