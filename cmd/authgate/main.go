package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/authgate"
	"github.com/oarkflow/authgate/logger"
	"github.com/oarkflow/authgate/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "migrate":
		handleMigrate()
	case "rule":
		handleRule()
	case "check":
		handleCheck()
	case "dispatch":
		handleDispatch()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authgate - Administration tool for the authorization oracle")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authgate migrate                          - Apply database migrations")
	fmt.Println("  authgate rule add <rule.json>             - Create a rule from a JSON file")
	fmt.Println("  authgate rule list [service]              - List rules")
	fmt.Println("  authgate rule toggle <id>                 - Flip a rule active/inactive")
	fmt.Println("  authgate rule delete <id>                 - Delete a rule")
	fmt.Println("  authgate rule test <path-dsl> <path>      - Try a path pattern against a path")
	fmt.Println("  authgate check <check.json>               - Evaluate a request from a JSON file")
	fmt.Println("  authgate dispatch [limit]                 - Publish pending outbox events")
	fmt.Println()
	fmt.Println("Set AUTHGATE_CONFIG to a .yaml/.json config file; defaults apply otherwise.")
}

func loadConfig() *authgate.Config {
	path := os.Getenv("AUTHGATE_CONFIG")
	if path == "" {
		return authgate.DefaultConfig()
	}
	cfg, err := authgate.LoadConfig(path)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openDB(cfg *authgate.Config) *squealx.DB {
	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	return squealx.NewDb(sqlDB, cfg.Database.Driver, "authgate")
}

func openCache(cfg *authgate.Config) authgate.Cache {
	if cfg.Redis.Addr == "" {
		cache, err := stores.NewLocalCache()
		if err != nil {
			fmt.Printf("Error creating local cache: %v\n", err)
			os.Exit(1)
		}
		return cache
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return stores.NewRedisCache(client)
}

func newRuleService(cfg *authgate.Config, db *squealx.DB) *authgate.RuleService {
	log := logger.NewPhusluLogger()
	outbox := authgate.NewOutboxService(stores.NewSQLOutboxStore(db), cfg.Outbox.Subjects, log)
	return authgate.NewRuleService(stores.NewSQLRuleStore(db), openCache(cfg),
		authgate.WithRuleLogger(log), authgate.WithRuleOutbox(outbox))
}

func handleMigrate() {
	cfg := loadConfig()
	db := openDB(cfg)
	defer db.Close()
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error running migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}

func handleRule() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	ctx := context.Background()
	cfg := loadConfig()
	db := openDB(cfg)
	defer db.Close()
	svc := newRuleService(cfg, db)

	switch os.Args[2] {
	case "add":
		if len(os.Args) < 4 {
			fmt.Println("Usage: authgate rule add <rule.json>")
			os.Exit(1)
		}
		data, err := os.ReadFile(os.Args[3])
		if err != nil {
			fmt.Printf("Error reading rule file: %v\n", err)
			os.Exit(1)
		}
		var rule authgate.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			fmt.Printf("Error parsing rule: %v\n", err)
			os.Exit(1)
		}
		created, err := svc.Create(ctx, rule)
		if err != nil {
			fmt.Printf("Error creating rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created rule %d (%s %s)\n", created.ID, created.Method, ruleTarget(created))
	case "list":
		var filter authgate.RuleFilter
		if len(os.Args) > 3 {
			filter.Service = os.Args[3]
		}
		rules, err := svc.List(ctx, filter)
		if err != nil {
			fmt.Printf("Error listing rules: %v\n", err)
			os.Exit(1)
		}
		for _, r := range rules {
			state := "active"
			if !r.IsActive {
				state = "inactive"
			}
			fmt.Printf("%6d  %-10s %-24s %-7s p=%-4d %s\n",
				r.ID, r.Service, ruleTarget(r), r.Method, r.Priority, state)
		}
	case "toggle":
		id := parseID(3, "authgate rule toggle <id>")
		rule, err := svc.Toggle(ctx, id)
		if err != nil {
			fmt.Printf("Error toggling rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rule %d is_active=%v\n", rule.ID, rule.IsActive)
	case "delete":
		id := parseID(3, "authgate rule delete <id>")
		if err := svc.Delete(ctx, id); err != nil {
			fmt.Printf("Error deleting rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted rule %d\n", id)
	case "test":
		if len(os.Args) < 5 {
			fmt.Println("Usage: authgate rule test <path-dsl> <path>")
			os.Exit(1)
		}
		res := svc.TestRule(os.Args[3], os.Args[4])
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	default:
		fmt.Printf("Unknown rule command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func ruleTarget(r *authgate.Rule) string {
	if r.RouteName != "" {
		return "route:" + r.RouteName
	}
	return r.PathDSL
}

func parseID(arg int, usage string) int64 {
	if len(os.Args) <= arg {
		fmt.Println("Usage: " + usage)
		os.Exit(1)
	}
	id, err := strconv.ParseInt(os.Args[arg], 10, 64)
	if err != nil {
		fmt.Printf("Invalid id %q\n", os.Args[arg])
		os.Exit(1)
	}
	return id
}

// checkInput is the JSON shape accepted by "authgate check".
type checkInput struct {
	Service   string                `json:"service"`
	Method    string                `json:"method"`
	Path      string                `json:"path"`
	RouteName string                `json:"route_name,omitempty"`
	Caller    authgate.CallerFacts  `json:"caller"`
	Context   authgate.StoreContext `json:"context"`
}

func handleCheck() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authgate check <check.json>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error reading check file: %v\n", err)
		os.Exit(1)
	}
	var in checkInput
	if err := json.Unmarshal(data, &in); err != nil {
		fmt.Printf("Error parsing check file: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := loadConfig()
	db := openDB(cfg)
	defer db.Close()
	cache := openCache(cfg)
	log := logger.NewPhusluLogger()

	assignments := stores.NewSQLAssignmentStore(db)
	roles := stores.NewSQLRoleStore(db)
	hierarchy := authgate.NewHierarchyService(stores.NewSQLHierarchyStore(db), roles, assignments,
		authgate.WithHierarchyLogger(log), authgate.WithMaxDepth(cfg.MaxHierarchyDepth))
	resolver := authgate.NewPermissionResolver(assignments, roles, hierarchy,
		authgate.WithResolverCache(cache, cfg.PermissionTTL()), authgate.WithResolverLogger(log))

	opts := append(cfg.EngineOptions(), authgate.WithLogger(log))
	engine, err := authgate.NewEngine(stores.NewSQLRuleStore(db), resolver, cache, opts...)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	verdict, err := engine.Check(ctx, authgate.CheckRequest{
		Service:      in.Service,
		Method:       in.Method,
		Path:         in.Path,
		RouteName:    in.RouteName,
		Caller:       in.Caller,
		StoreContext: in.Context,
	})
	if err != nil {
		fmt.Printf("Error evaluating request: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(verdict, "", "  ")
	fmt.Println(string(out))
	if !verdict.Authorized {
		os.Exit(2)
	}
}

func handleDispatch() {
	limit := 100
	if len(os.Args) > 2 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			limit = n
		}
	}
	ctx := context.Background()
	cfg := loadConfig()
	if cfg.Redis.Addr == "" {
		fmt.Println("dispatch requires redis.addr in the config")
		os.Exit(1)
	}
	db := openDB(cfg)
	defer db.Close()
	log := logger.NewPhusluLogger()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pub := stores.NewRedisStreamPublisher(client, cfg.Outbox.Stream)
	svc := authgate.NewOutboxService(stores.NewSQLOutboxStore(db), cfg.Outbox.Subjects, log)
	n, err := svc.Dispatch(ctx, pub, limit)
	if err != nil {
		fmt.Printf("Published %d event(s); dispatch stopped: %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("Published %d event(s)\n", n)
}
