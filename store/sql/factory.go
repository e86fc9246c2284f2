package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	idempotencyStore *IdempotencyStore
	auditStore       *AuditStore

	idempotencyTTL time.Duration
}

func NewRepositoryFactory(idempotencyTTL time.Duration) *RepositoryFactory {
	return &RepositoryFactory{idempotencyTTL: idempotencyTTL}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, idempotencyTTL time.Duration) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(idempotencyTTL)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, idempotencyTTL time.Duration) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(idempotencyTTL)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.idempotencyStore != nil && f.auditStore != nil {
		return nil
	}

	idempotencyStore, err := NewIdempotencyStore(f.db, f.idempotencyTTL)
	if err != nil {
		return err
	}
	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyStore = idempotencyStore
	f.auditStore = auditStore
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) IdempotencyStore() *IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
