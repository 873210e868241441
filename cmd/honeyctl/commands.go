package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/honeyagent/internal/agent"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/engine"
	"github.com/xela07ax/honeyagent/internal/fingerprint"
	"github.com/xela07ax/honeyagent/internal/identity"
	"github.com/xela07ax/honeyagent/internal/infra"
	"github.com/xela07ax/honeyagent/internal/policy"
	"github.com/xela07ax/honeyagent/internal/routing"
)

// validateCmd та же проверка, что делает шлюз при старте.
func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate agent catalog and routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			catalog, err := agent.LoadCatalog(cfg.Agents, cfg.BaseDir)
			if err != nil {
				return err
			}
			if err := routing.NewRouter(cfg.Routing.Table()).Validate(catalog); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration OK")
			for _, name := range catalog.Names() {
				def, _ := catalog.Get(name)
				kind := "real"
				if def.IsHoneypot {
					kind = "honeypot"
				}
				fmt.Fprintf(out, "  %-22s %-9s %v\n", name, kind, def.Capabilities)
			}
			return nil
		},
	}
}

func mintCmd(configPath *string) *cobra.Command {
	var (
		sub     string
		role    string
		profile string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a development agent token",
		Long: `Sign an RS256 token with the private key from identity.private_key_path
(or HONEYAGENT_PRIVATE_KEY_DATA).

Examples:
  honeyctl mint --sub worker-1 --role real
  honeyctl mint --sub trap-1 --role honeypot --profile privileged`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sub == "" {
				return fmt.Errorf("--sub is required")
			}
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			key, err := identity.ParseRSAPrivateKey(cfg.Identity.PrivateKey)
			if err != nil {
				return err
			}

			tok, err := identity.Mint(key, identity.MintOptions{
				KID:       cfg.Identity.KeyID,
				Subject:   sub,
				Role:      domain.Role(role),
				Profile:   profile,
				Issuer:    cfg.Identity.Issuer,
				Audience:  cfg.Identity.Audience,
				Namespace: cfg.Identity.ClaimNamespace,
				TTL:       ttl,
			}, time.Now())
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(domain.TokenResponse{
				AccessToken: tok,
				TokenType:   "Bearer",
				ExpiresIn:   int64(ttl.Seconds()),
			})
		},
	}

	cmd.Flags().StringVar(&sub, "sub", "", "subject (agent id) (required)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleReal), "agent_type claim: real | honeypot")
	cmd.Flags().StringVar(&profile, "profile", "", "trap_profile claim for honeypot tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func fingerprintsCmd(configPath *string) *cobra.Command {
	var (
		session string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "fingerprints",
		Short: "Print recent fingerprints from the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := fingerprint.OpenFileStoreReadOnly(cfg.Store.FingerprintPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var fps []domain.Fingerprint
			if session != "" {
				fps, err = store.BySession(session, limit)
			} else {
				fps, err = store.Recent(limit)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, fp := range fps {
				if err := enc.Encode(fp); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "only records of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "how many most recent records to print")
	return cmd
}

// sendCmd запрос к шлюзу через gRPC, как это сделал бы агент роя.
func sendCmd() *cobra.Command {
	var (
		addr    string
		token   string
		session string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message through the gRPC gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			in, err := structpb.NewStruct(map[string]any{"message": args[0], "session_id": session})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if token != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
			}

			out, err := engine.Handle(ctx, conn, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.GetFields()["response"].GetStringValue())
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50052", "gRPC gateway address")
	cmd.Flags().StringVarP(&token, "token", "t", "", "bearer token (empty = anonymous)")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	return cmd
}

// blockCmd "сжечь" или вернуть субъекта. Действует на все инстансы через Redis.
func blockCmd(configPath *string, block bool) *cobra.Command {
	use, short := "block <subject>", "Route a subject to the denied honeypot from now on"
	if !block {
		use, short = "unblock <subject>", "Remove a subject from the blocklist"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()

			// Локальный authorizer не участвует: нужен только Redis
			bl := policy.NewBlocklist(nil, rdb, infra.RedisKeyBlockedSubjects, infra.RedisChanSubjectBlocked, zap.NewNop())
			if block {
				err = bl.Block(cmd.Context(), args[0])
			} else {
				err = bl.Unblock(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: blocked=%v\n", args[0], block)
			return nil
		},
	}
}
