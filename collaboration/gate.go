package collaboration

import (
	"context"
	"fmt"
)

// ContractChecker answers whether both parties signed a collaboration's
// contract. It is read-only from the engine's side.
type ContractChecker interface {
	IsFullySigned(ctx context.Context, collaborationID string) (bool, error)
}

// ContractCheckerFunc adapts a function to ContractChecker.
type ContractCheckerFunc func(ctx context.Context, collaborationID string) (bool, error)

func (f ContractCheckerFunc) IsFullySigned(ctx context.Context, collaborationID string) (bool, error) {
	return f(ctx, collaborationID)
}

func checkGuard(ctx context.Context, guard Guard, contracts ContractChecker, collaborationID string) error {
	switch guard {
	case GuardNone:
		return nil
	case GuardContractSigned:
		if contracts == nil {
			return ErrContractNotFullySigned
		}
		signed, err := contracts.IsFullySigned(ctx, collaborationID)
		if err != nil {
			return fmt.Errorf("collaboration: check contract: %w", err)
		}
		if !signed {
			return ErrContractNotFullySigned
		}
		return nil
	default:
		return fmt.Errorf("collaboration: unknown guard %d", guard)
	}
}
