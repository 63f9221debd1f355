package health

import (
	"context"
	"fmt"
)

// StoreChecker returns a Checker that verifies the conversation store's
// directory is listable, catching a missing or permission-denied
// conversations_dir before it surfaces as a confusing per-request error.
func StoreChecker(name string, list func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := list(ctx); err != nil {
				return fmt.Errorf("conversation store unavailable: %w", err)
			}
			return nil
		},
	}
}

// ProviderChecker returns a Checker that verifies a registered driver
// responds to ListModels within the check timeout, catching an expired or
// misconfigured credential before it surfaces mid-conversation.
func ProviderChecker(name string, ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ping(ctx); err != nil {
				return fmt.Errorf("provider unreachable: %w", err)
			}
			return nil
		},
	}
}
