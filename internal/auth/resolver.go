package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cardsdb "github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	storedb "github.com/puffperksonline/puffperks/internal/store/db"
)

// StoreFinder looks up the store owned by an auth user.
type StoreFinder interface {
	GetStoreByOwner(ctx context.Context, userID string) (*models.Store, error)
}

// CustomerFinder looks up the customer profile of an auth user.
type CustomerFinder interface {
	GetCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error)
}

// Resolver decides a verified user's role exactly once per request: store
// owner if they own a store, customer if they have a customer profile,
// unauthenticated otherwise. Handlers read the result from the context
// instead of re-deriving it.
type Resolver struct {
	Stores    StoreFinder
	Customers CustomerFinder
	Logger    *logger.Logger
}

func NewResolver(stores StoreFinder, customers CustomerFinder, log *logger.Logger) *Resolver {
	return &Resolver{Stores: stores, Customers: customers, Logger: log}
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return &models.Session{Role: models.RoleUnauthenticated}, nil
	}

	store, err := r.Stores.GetStoreByOwner(ctx, userID)
	if err == nil {
		return &models.Session{UserID: userID, Role: models.RoleStoreOwner, Store: store}, nil
	}
	if !errors.Is(err, storedb.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve store role: %w", err)
	}

	customer, err := r.Customers.GetCustomerByUserID(ctx, userID)
	if err == nil {
		return &models.Session{UserID: userID, Role: models.RoleCustomer, Customer: customer}, nil
	}
	if !errors.Is(err, cardsdb.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve customer role: %w", err)
	}

	return &models.Session{UserID: userID, Role: models.RoleUnauthenticated}, nil
}

// WithSession resolves the role for the verified user and stores the session
// in the request context. Must run after Middleware.
func (r *Resolver) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		session, err := r.Resolve(req.Context(), UserID(req.Context()))
		if err != nil {
			r.Logger.Error("AUTH", fmt.Sprintf("Role resolution failed: %v", err))
			http.Error(w, "failed to resolve role", http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(req.Context(), sessionKey, session)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// ContextWithSession attaches an already resolved session to a context.
func ContextWithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFrom returns the resolved session, or an unauthenticated one when
// the resolver did not run.
func SessionFrom(ctx context.Context) *models.Session {
	if s, ok := ctx.Value(sessionKey).(*models.Session); ok {
		return s
	}
	return &models.Session{Role: models.RoleUnauthenticated}
}

// RequireStoreOwner gates dashboard routes.
func RequireStoreOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()).Role != models.RoleStoreOwner {
			http.Error(w, "store owner role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCustomer gates customer card routes.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()).Role != models.RoleCustomer {
			http.Error(w, "customer role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
