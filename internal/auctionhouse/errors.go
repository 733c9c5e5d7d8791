package auctionhouse

import (
	"errors"
	"fmt"
)

// ProgramError is a named failure surfaced to the submitting client.
// Codes follow the on-chain numbering so indexed failures line up.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

var programErrors = map[uint32]*ProgramError{}

func newProgramError(code uint32, name, msg string) *ProgramError {
	err := &ProgramError{Code: code, Name: name, Msg: msg}
	programErrors[code] = err
	return err
}

// ErrorByCode looks up a registered error, e.g. when decoding a failed transaction.
func ErrorByCode(code uint32) (*ProgramError, bool) {
	err, ok := programErrors[code]
	return err, ok
}

// AsProgramError unwraps err down to its ProgramError, if any.
func AsProgramError(err error) (*ProgramError, bool) {
	var programErr *ProgramError
	if errors.As(err, &programErr) {
		return programErr, true
	}
	return nil, false
}

// The full on-chain catalogue is registered so ErrorByCode can decode any
// code a transaction reports, including ones this engine never returns.
var (
	ErrConstraintHasOne   = newProgramError(2001, "ConstraintHasOne", "A has one constraint was violated")
	ErrConstraintSigner   = newProgramError(2002, "ConstraintSigner", "A signer constraint was violated")
	ErrAccountNotFound    = newProgramError(3012, "AccountNotInitialized", "The program expected this account to be already initialized")
	ErrNotEnoughAccounts  = newProgramError(3005, "AccountNotEnoughKeys", "Not enough account keys given to the instruction")
	ErrDiscriminatorWrong = newProgramError(3002, "AccountDiscriminatorMismatch", "Account discriminator did not match what was expected")

	ErrPublicKeyMismatch                  = newProgramError(6000, "PublicKeyMismatch", "PublicKeyMismatch")
	ErrInvalidMintAuthority               = newProgramError(6001, "InvalidMintAuthority", "InvalidMintAuthority")
	ErrUninitializedAccount               = newProgramError(6002, "UninitializedAccount", "UninitializedAccount")
	ErrIncorrectOwner                     = newProgramError(6003, "IncorrectOwner", "IncorrectOwner")
	ErrPublicKeysShouldBeUnique           = newProgramError(6004, "PublicKeysShouldBeUnique", "PublicKeysShouldBeUnique")
	ErrStatementFalse                     = newProgramError(6005, "StatementFalse", "StatementFalse")
	ErrNotRentExempt                      = newProgramError(6006, "NotRentExempt", "NotRentExempt")
	ErrNumericalOverflow                  = newProgramError(6007, "NumericalOverflow", "NumericalOverflow")
	ErrExpectedSolAccount                 = newProgramError(6008, "ExpectedSolAccount", "Expected a sol account but got an spl token account instead")
	ErrCannotExchangeSOLForSol            = newProgramError(6009, "CannotExchangeSOLForSol", "Cannot exchange sol for sol")
	ErrSOLWalletMustSign                  = newProgramError(6010, "SOLWalletMustSign", "If paying with sol, sol wallet must be signer")
	ErrCannotTakeActionWithoutSignOff     = newProgramError(6011, "CannotTakeThisActionWithoutAuctionHouseSignOff", "Cannot take this action without auction house signing too")
	ErrNoPayerPresent                     = newProgramError(6012, "NoPayerPresent", "No payer present on this txn")
	ErrDerivationMismatch                 = newProgramError(6013, "DerivedKeyInvalid", "Derived key invalid")
	ErrMetadataDoesntExist                = newProgramError(6014, "MetadataDoesntExist", "Metadata doesn't exist")
	ErrInvalidTokenAmount                 = newProgramError(6015, "InvalidTokenAmount", "Invalid token amount")
	ErrBothPartiesNeedToAgreeToSale       = newProgramError(6016, "BothPartiesNeedToAgreeToSale", "Both parties need to agree to this sale")
	ErrCannotMatchFreeSalesWithoutSignOff = newProgramError(6017, "CannotMatchFreeSalesWithoutAuctionHouseOrSellerSignoff", "Cannot match free sales unless the auction house or seller signs off")
	ErrSaleRequiresSigner                 = newProgramError(6018, "SaleRequiresSigner", "This sale requires a signer")
	ErrOldSellerNotInitialized            = newProgramError(6019, "OldSellerNotInitialized", "Old seller not initialized")
	ErrSellerATACannotHaveDelegate        = newProgramError(6020, "SellerATACannotHaveDelegate", "Seller ata cannot have a delegate set")
	ErrBuyerATACannotHaveDelegate         = newProgramError(6021, "BuyerATACannotHaveDelegate", "Buyer ata cannot have a delegate set")
	ErrNoValidSignerPresent               = newProgramError(6022, "NoValidSignerPresent", "No valid signer present")
	ErrInvalidBasisPoints                 = newProgramError(6023, "InvalidBasisPoints", "BP must be less than or equal to 10000")
	ErrTradeStateDoesntExist              = newProgramError(6024, "TradeStateDoesntExist", "The trade state account does not exist")
	ErrTradeStateIsNotEmpty               = newProgramError(6025, "TradeStateIsNotEmpty", "The trade state is not empty")
	ErrReceiptIsEmpty                     = newProgramError(6026, "ReceiptIsEmpty", "The receipt is empty")
	ErrInstructionMismatch                = newProgramError(6027, "InstructionMismatch", "The instruction does not match")
	ErrInvalidAuctioneer                  = newProgramError(6028, "InvalidAuctioneer", "Invalid Auctioneer for this Auction House instance")
	ErrMissingAuctioneerScope             = newProgramError(6029, "MissingAuctioneerScope", "The Auctioneer does not have the correct scope for this action")
	ErrMustUseAuctioneerHandler           = newProgramError(6030, "MustUseAuctioneerHandler", "Must use auctioneer handler")
	ErrNoAuctioneerProgramSet             = newProgramError(6031, "NoAuctioneerProgramSet", "No Auctioneer program set")
	ErrTooManyScopes                      = newProgramError(6032, "TooManyScopes", "Too many scopes")
	ErrAuctionHouseAlreadyDelegated       = newProgramError(6033, "AuctionHouseAlreadyDelegated", "Auction House already delegated")
	ErrBumpSeedNotInHashMap               = newProgramError(6034, "BumpSeedNotInHashMap", "Bump seeds don't match the expected trade state bump")
	ErrEscrowUnderRentExemption           = newProgramError(6035, "EscrowUnderRentExemption", "The instruction would drain the escrow below rent exemption threshold")
	ErrInvalidSeedsOrNotDelegated         = newProgramError(6036, "InvalidSeedsOrAuctionHouseNotDelegated", "Invalid seeds or Auction House not delegated")
	ErrBuyerTradeStateNotValid            = newProgramError(6037, "BuyerTradeStateNotValid", "The buyer trade state was unable to be initialized")
	ErrMissingElementForPartialOrder      = newProgramError(6038, "MissingElementForPartialOrder", "Partial order size and price must both be provided in a partial buy")
	ErrNotEnoughTokensAvailable           = newProgramError(6039, "NotEnoughTokensAvailableForPurchase", "Amount of tokens available for purchase is less than the partial order amount")
	ErrPartialPriceMismatch               = newProgramError(6040, "PartialPriceMismatch", "Calculated partial price does not equal partial price sent")
)
