package types

// Native program and sysvar addresses. These are the same across Solana mainnet and X1.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// SysvarOwnerAddr owns every sysvar account.
	SysvarOwnerAddr = MustPubkeyFromBase58("Sysvar1111111111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// IsSysvar returns true if the pubkey is a sysvar known to this ledger.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarRentAddr:
		return true
	default:
		return false
	}
}
