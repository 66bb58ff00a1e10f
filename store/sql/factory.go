package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-guard/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	webhookLogStore           *WebhookLogStore
	cachedWebhookLogStore     *CachedWebhookLogStore
	notificationDispatchStore *NotificationDispatchStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// WithCache routes external id lookups through cacheService. It must be
// called before BuildStores.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) *RepositoryFactory {
	if f == nil {
		return nil
	}
	f.cache = cacheService
	return f
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.webhookLogStore != nil && f.notificationDispatchStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// WebhookLogStore returns the cached store when a cache was configured.
func (f *RepositoryFactory) WebhookLogStore() core.WebhookLogStore {
	if f == nil {
		return nil
	}
	if f.cachedWebhookLogStore != nil {
		return f.cachedWebhookLogStore
	}
	if f.webhookLogStore == nil {
		return nil
	}
	return f.webhookLogStore
}

func (f *RepositoryFactory) NotificationLedger() core.NotificationLedger {
	if f == nil || f.notificationDispatchStore == nil {
		return nil
	}
	return f.notificationDispatchStore
}

func (f *RepositoryFactory) NotificationDispatchStore() *NotificationDispatchStore {
	if f == nil {
		return nil
	}
	return f.notificationDispatchStore
}

func (f *RepositoryFactory) initStores() error {
	webhookLogStore, err := NewWebhookLogStore(f.db)
	if err != nil {
		return err
	}
	f.webhookLogStore = webhookLogStore
	if f.cache != nil {
		cached, err := NewCachedWebhookLogStore(webhookLogStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedWebhookLogStore = cached
	}
	notificationDispatchStore, err := NewNotificationDispatchStore(f.db)
	if err != nil {
		return err
	}
	f.notificationDispatchStore = notificationDispatchStore
	return nil
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
