package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"vaultline.org/internal/access"
	"vaultline.org/internal/account"
	"vaultline.org/internal/audit"
	"vaultline.org/internal/compliance"
	"vaultline.org/internal/config"
	"vaultline.org/internal/fieldcrypt"
	"vaultline.org/internal/graph"
	"vaultline.org/internal/lock"
	"vaultline.org/internal/migrate"
	"vaultline.org/internal/obs"
	"vaultline.org/internal/store/pg"
)

var (
	version = "dev"
	commit  = "none"
)

const builtinAccess = `
admin_role: admin
default_role: viewer
entity_permissions:
  account:
    view_roles: [sales, manager]
    create_roles: [sales, manager]
    update_roles: [sales, manager]
    delete_roles: [manager]
users:
  - {id: smoke-sales, name: Smoke Sales, roles: [sales]}
  - {id: smoke-manager, name: Smoke Manager, roles: [manager]}
`

type stores struct {
	accounts      account.Store
	relationships graph.Store
	audit         audit.Store
	close         func()
}

func main() {
	generateKey := flag.Bool("generate-key", false, "Use a throwaway encryption key when none is configured")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.EncryptionKey == "" && *generateKey {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("generate key: %v", err)
		}
		cfg.EncryptionKey = hex.EncodeToString(buf)
		obs.Event(obs.LevelWarn, "smoke.ephemeral_key", nil)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc, st, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("wire service: %v", err)
	}
	defer st.close()

	if err := run(ctx, svc, st.accounts); err != nil {
		log.Fatalf("smoke: %v", err)
	}
	fmt.Println("✅ compliance smoke test passed")
}

func build(ctx context.Context, cfg config.Config) (*compliance.Service, stores, error) {
	accessCfg, dir, err := loadAccess(cfg)
	if err != nil {
		return nil, stores{}, err
	}
	gate, err := access.New(accessCfg)
	if err != nil {
		return nil, stores{}, err
	}
	key, err := fieldcrypt.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, stores{}, err
	}
	engine, err := fieldcrypt.New(key)
	if err != nil {
		return nil, stores{}, err
	}
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, stores{}, err
	}

	reg := prometheus.NewRegistry()
	metrics, err := obs.NewMetrics(reg)
	if err != nil {
		st.close()
		return nil, stores{}, err
	}
	metrics.SetBuildInfo(version, commit)

	trailOpts := []audit.Option{audit.WithDirectory(dir)}
	if cfg.AuditMaxDetails > 0 {
		trailOpts = append(trailOpts, audit.WithMaxDetailsChars(cfg.AuditMaxDetails))
	}
	opts := []compliance.Option{compliance.WithMetrics(metrics)}
	if cfg.OpTimeout > 0 {
		opts = append(opts, compliance.WithOpTimeout(cfg.OpTimeout))
	}
	if cfg.ExportRatePerMinute > 0 {
		opts = append(opts, compliance.WithExportRateLimit(cfg.ExportRatePerMinute, cfg.ExportBurst))
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			st.close()
			return nil, stores{}, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		prev := st.close
		st.close = func() { _ = client.Close(); prev() }
		opts = append(opts, compliance.WithLocker(lock.NewRedisLocker(client)))
	}

	svc, err := compliance.New(compliance.Deps{
		Accounts:      st.accounts,
		Relationships: st.relationships,
		Audit:         audit.New(st.audit, trailOpts...),
		Gate:          gate,
		Crypto:        engine,
	}, opts...)
	if err != nil {
		st.close()
		return nil, stores{}, err
	}
	return svc, st, nil
}

func loadAccess(cfg config.Config) (access.Config, audit.DirectoryMap, error) {
	if cfg.AccessFile != "" {
		return config.LoadAccessFile(cfg.AccessFile)
	}
	return config.ParseAccess([]byte(builtinAccess))
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Event(obs.LevelInfo, "smoke.stores", map[string]any{"backend": "memory"})
		return stores{
			accounts:      account.NewMemoryStore(),
			relationships: graph.NewMemoryStore(),
			audit:         audit.NewMemoryStore(),
			close:         func() {},
		}, nil
	}
	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	applied, err := migrate.NewManager(db.DB(), pg.Migrations(), nil).Up(ctx)
	if err != nil {
		_ = db.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	obs.Event(obs.LevelInfo, "smoke.stores", map[string]any{"backend": "postgres", "migrations_applied": len(applied)})
	return stores{
		accounts:      db.Accounts(),
		relationships: db.Relationships(),
		audit:         db.AuditEntries(),
		close:         func() { _ = db.Close() },
	}, nil
}

func run(ctx context.Context, svc *compliance.Service, raw account.Store) error {
	const (
		sales   = "smoke-sales"
		manager = "smoke-manager"
	)
	parent, err := svc.CreateAccount(ctx, sales, account.Input{
		Name:     "Smoke Holdings",
		Industry: account.IndustryFinance,
		Type:     account.TypeCustomer,
		Status:   account.StatusActive,
		Email:    "finance@smoke.example",
		Phone:    "+1 555 0100",
	})
	if err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	child, err := svc.CreateAccount(ctx, sales, account.Input{
		Name:     "Smoke Retail",
		Industry: account.IndustryRetail,
		Type:     account.TypeCustomer,
		Status:   account.StatusActive,
		Email:    "retail@smoke.example",
	})
	if err != nil {
		return fmt.Errorf("create child: %w", err)
	}
	parentID, childID := parent.Account.ID, child.Account.ID

	stored, err := raw.Get(ctx, parentID)
	if err != nil {
		return fmt.Errorf("read stored record: %w", err)
	}
	if !fieldcrypt.LooksEncrypted(stored.Email) || !fieldcrypt.LooksEncrypted(stored.Phone) {
		return fmt.Errorf("sensitive fields stored in plaintext")
	}

	phone := "+1 555 0199"
	if _, err := svc.UpdateAccount(ctx, sales, parentID, account.Patch{Phone: &phone}); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	view, err := svc.GetAccount(ctx, sales, parentID)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if view.Account.Phone != phone || len(view.DecryptFailures) > 0 {
		return fmt.Errorf("unexpected read back: phone=%q failures=%d", view.Account.Phone, len(view.DecryptFailures))
	}

	if _, err := svc.UpdateRelationships(ctx, sales, parentID, compliance.RelationshipChange{
		AddChildren: []compliance.Link{{AccountID: childID, Type: graph.TypeSubsidiary}},
	}); err != nil {
		return fmt.Errorf("link accounts: %w", err)
	}
	_, err = svc.UpdateRelationships(ctx, sales, childID, compliance.RelationshipChange{
		AddChildren: []compliance.Link{{AccountID: parentID}},
	})
	if compliance.CodeOf(err) != compliance.CodeCircularReference {
		return fmt.Errorf("expected circular reference, got %v", err)
	}
	if err := svc.DeleteAccount(ctx, sales, parentID); compliance.CodeOf(err) != compliance.CodePermissionDenied {
		return fmt.Errorf("expected permission denied for sales delete, got %v", err)
	}

	export, err := svc.ExportAccountData(ctx, sales, parentID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if len(export.AuditTrail) == 0 || len(export.Relationships.Children) != 1 {
		return fmt.Errorf("export incomplete: %d entries, %d children", len(export.AuditTrail), len(export.Relationships.Children))
	}

	for _, id := range []string{parentID, childID} {
		res, err := svc.CompletelyRemoveAccountData(ctx, manager, id)
		if err != nil {
			return fmt.Errorf("erase %s: %w", id, err)
		}
		obs.Event(obs.LevelInfo, "smoke.erased", map[string]any{"account_id": id, "message": res.Message})
	}
	if _, err := svc.GetAccount(ctx, manager, parentID); compliance.CodeOf(err) != compliance.CodeNotFound {
		return fmt.Errorf("expected not found after erasure, got %v", err)
	}
	trail, err := svc.GetAuditTrail(ctx, manager, parentID, audit.Page{})
	if err != nil {
		return fmt.Errorf("trail after erasure: %w", err)
	}
	if trail.Total != 0 {
		return fmt.Errorf("audit trail survived erasure: %d entries", trail.Total)
	}
	return nil
}
