// Command agentgateway runs the AgentGateway L7 data plane: it loads a
// configuration document (from a local file and/or a control-plane ADS
// stream), builds the request pipeline, and serves every configured Bind
// until terminated.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/controlplane"
	"github.com/agentgateway/agentgateway-core/internal/jwks"
	"github.com/agentgateway/agentgateway-core/internal/lb"
	"github.com/agentgateway/agentgateway-core/internal/logging"
	"github.com/agentgateway/agentgateway-core/internal/policy"
	"github.com/agentgateway/agentgateway-core/internal/server"
	"github.com/agentgateway/agentgateway-core/internal/telemetry"
	"github.com/agentgateway/agentgateway-core/internal/upstream"
	"github.com/agentgateway/agentgateway-core/pkg/version"
)

var log = logging.New("cmd")

// bootConfig is the process-level boot configuration, distinct from the
// routing Document: environment variables are read first via envconfig,
// then any non-empty viper flag value (including a flag's own default)
// overrides them.
type bootConfig struct {
	ConfigFile    string `envconfig:"CONFIG_FILE"`
	ControlPlane  string `envconfig:"CONTROL_PLANE_TARGET"`
	AdminAddr     string `envconfig:"ADMIN_ADDR" default:":9901"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	NodeID        string `envconfig:"NODE_ID" default:"agentgateway"`
	NodeCluster   string `envconfig:"NODE_CLUSTER" default:"default"`
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "agentgateway",
		Short: "AgentGateway L7 data-plane proxy",
	}
	root.PersistentFlags().String("config", "", "path to a local configuration document")
	root.PersistentFlags().String("admin-addr", ":9901", "admin HTTP listen address")
	root.PersistentFlags().String("control-plane", "", "control-plane ADS target (host:port)")
	root.PersistentFlags().String("redis-addr", "", "Redis address for global rate limiting")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func loadBootConfig(v *viper.Viper) (bootConfig, error) {
	var bc bootConfig
	if err := envconfig.Process("AGENTGATEWAY", &bc); err != nil {
		return bc, fmt.Errorf("reading environment configuration: %w", err)
	}
	if f := v.GetString("config"); f != "" {
		bc.ConfigFile = f
	}
	if a := v.GetString("admin-addr"); a != "" {
		bc.AdminAddr = a
	}
	if cp := v.GetString("control-plane"); cp != "" {
		bc.ControlPlane = cp
	}
	if r := v.GetString("redis-addr"); r != "" {
		bc.RedisAddr = r
	}
	return bc, nil
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the data plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := loadBootConfig(v)
			if err != nil {
				return err
			}
			return runGateway(cmd.Context(), bc)
		},
	}
}

func newValidateConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a configuration document without serving traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			doc, err := config.ParseDocument(raw)
			if err != nil {
				return fmt.Errorf("parsing document: %w", err)
			}
			store := config.NewStore()
			result := store.ApplyDocument(doc)
			if !result.Accepted {
				for _, e := range result.Errors {
					fmt.Fprintf(os.Stderr, "%s: %s\n", e.Resource, e.Reason)
				}
				return fmt.Errorf("configuration rejected with %d error(s)", len(result.Errors))
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", "", "path to the configuration document")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.String())
			return nil
		},
	}
}

func runGateway(ctx context.Context, bc bootConfig) error {
	defer logging.Sync()

	if shutdown, err := telemetry.InitTracing(); err != nil {
		log.Warn("tracing disabled", "err", err)
	} else {
		defer shutdown(context.Background())
	}
	if shutdown, err := telemetry.InitMetricsBridge(); err != nil {
		log.Warn("otel metrics bridge disabled", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	store := config.NewStore()

	if bc.ConfigFile != "" {
		watcher, err := server.NewFileWatcher(store, bc.ConfigFile)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
		go server.WaitForSignals(ctx, watcher.Reload)
	}

	if bc.ControlPlane != "" {
		go runControlPlane(ctx, store, bc)
	}

	var redisClient *redis.Client
	if bc.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: bc.RedisAddr})
	}

	jwtVerifier := policy.NewJWTVerifier(policy.NewFetcherSource(startJWKSFetcher(ctx)))
	oauthVerifier := policy.NewOAuth2Verifier(map[string]string{})
	rateLimiter := policy.NewRateLimiter(redisClient)
	extAuthzClient := &policy.HTTPExtAuthzClient{}
	pipeline := policy.NewPipeline(jwtVerifier, oauthVerifier, rateLimiter, extAuthzClient)

	selector := lb.NewSelector()
	picker := lb.NewPicker()
	pool := upstream.NewPool()
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	admin := server.NewAdminServer(store, celengine.MustSchemaEnv())
	runtime := server.NewRuntime(store, admin, bc.AdminAddr, func(bindIdx config.BindIndex) *server.Gateway {
		return server.NewGateway(store, pipeline, selector, picker, pool, metrics, bindIdx)
	})

	log.Info("agentgateway starting", "admin_addr", bc.AdminAddr, "config_file", bc.ConfigFile)
	return runtime.Run(ctx)
}

func startJWKSFetcher(ctx context.Context) *jwks.Fetcher {
	f := jwks.NewFetcher()
	go f.Run(ctx)
	return f
}

func runControlPlane(ctx context.Context, store *config.Store, bc bootConfig) {
	handlers := map[string]controlplane.ResourceHandler{
		"type.googleapis.com/agentgateway.config.v1.Document": func(resp *controlplane.DiscoveryResponse) error {
			if len(resp.Resources) == 0 {
				return fmt.Errorf("empty discovery response")
			}
			doc, err := config.ParseDocument(resp.Resources[0])
			if err != nil {
				return err
			}
			result := store.ApplyDocument(doc)
			if !result.Accepted {
				return fmt.Errorf("rejected with %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	client := controlplane.NewClient(bc.ControlPlane, controlplane.Node{ID: bc.NodeID, Cluster: bc.NodeCluster}, handlers)
	for {
		if err := client.Run(ctx); err != nil {
			log.Error("control-plane stream ended", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
