// Package middleware wraps a ports.StateStore with encryption and PII masking.
// Middlewares compose: Chain(store, NewPIIMiddleware(p), NewEncryptionMiddleware(c))
// masks first and encrypts the masked state.
package middleware

import "github.com/aretw0/journey/pkg/ports"

// Middleware allows wrapping a StateStore to add behavior.
type Middleware func(ports.StateStore) ports.StateStore

// Chain applies middlewares so that the first one sees the state first on Save.
func Chain(store ports.StateStore, mws ...Middleware) ports.StateStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
