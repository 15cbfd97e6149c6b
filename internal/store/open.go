package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/szaher/minime/internal/awsutil"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendEtcd     = "etcd"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Region        string
	DynamoTable   string
	PostgresDSN   string
	EtcdEndpoints []string
	EtcdPrefix    string
}

// Open builds the configured backend. The returned close function releases
// connections and is never nil.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	noop := func() {}
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), noop, nil

	case BackendDynamoDB:
		if opts.DynamoTable == "" {
			return nil, noop, fmt.Errorf("dynamodb store: table name is required")
		}
		cfg, err := awsutil.Load(ctx, opts.Region)
		if err != nil {
			return nil, noop, err
		}
		return NewDynamoStore(dynamodb.NewFromConfig(cfg), opts.DynamoTable), noop, nil

	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, noop, fmt.Errorf("postgres store: dsn is required")
		}
		pool, err := pgxpool.New(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres store: %w", err)
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, pool.Close, nil

	case BackendEtcd:
		if len(opts.EtcdEndpoints) == 0 {
			return nil, noop, fmt.Errorf("etcd store: at least one endpoint is required")
		}
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   opts.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("etcd store: %w", err)
		}
		return NewEtcdStore(cli, opts.EtcdPrefix), func() { _ = cli.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
