package types

import "errors"

// Peg-in (claim deposit) rejection reasons. These are surfaced to the
// submitting client verbatim; none of them mutate committed state.
var (
	ErrUnknownInputVariant = errors.New("the wallet input version is not supported by this federation")
	ErrDepositAlreadySpent = errors.New("the deposit has already been claimed")
	ErrUnknownDepositIndex = errors.New("unknown deposit index")
	ErrWrongTweak          = errors.New("the tweak does not match the deposit script")
)

// Peg-out (withdrawal) rejection reasons.
var (
	ErrUnknownOutputVariant = errors.New("the wallet output version is not supported by this federation")
	ErrUnderDustLimit       = errors.New("the output value is below the dust limit")
	ErrNoFederationWallet   = errors.New("the federation does not have any funds yet")
	ErrChangeUnderDustLimit = errors.New("the change value is below the dust limit")
	ErrUnknownScriptVariant = errors.New("unknown script variant")
)

// Shared rejection reasons.
var (
	ErrNoConsensusFeerate   = errors.New("no up to date feerate is available at the moment, please try again later")
	ErrInsufficientTotalFee = errors.New("the total transaction fee is too low, please construct a new transaction")
	ErrArithmeticOverflow   = errors.New("constructing the transaction caused an arithmetic overflow")
)
