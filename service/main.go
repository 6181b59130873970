package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/cache/referral_trees"
	"gitlab.com/paramountdax-exchange/referral_api/cache/user_referrals"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/net/kafka"
	"gitlab.com/paramountdax-exchange/referral_api/net/redis"
	"gitlab.com/paramountdax-exchange/referral_api/queries"
	"gitlab.com/paramountdax-exchange/referral_api/service/referral_tree"
)

// TreeSnapshots caches built tree structures per root. Set only takes effect while the
// root is still at the generation read before the tree was built.
type TreeSnapshots interface {
	Generation(rootUserID uint64) (uint64, bool)
	Get(rootUserID uint64, maxLevel int) (*model.ReferralTreeNode, bool)
	Set(rootUserID uint64, maxLevel int, generation uint64, node *model.ReferralTreeNode)
	Invalidate(rootUserIDs ...uint64)
}

// Service structure
type Service struct {
	cfg       config.Config
	repo      *queries.Repo
	edges     queries.ReferralEdgeStore
	snapshots TreeSnapshots
	redis     *redis.Client
	producer  *kafka.KafkaProducer

	Tree *referral_tree.Engine
}

// NewService connects to the database, redis and kafka and builds the referral tree engine
func NewService(cfg config.Config) *Service {
	repo := queries.NewRepo(cfg.DatabaseCluster.Writer, cfg.DatabaseCluster.Reader)
	edges := queries.NewReferralEdges(repo, cfg.ReferralConfig.TxTimeout)

	sinks := referral_tree.AuditSinks{referral_tree.LogAuditSink{}}
	var producer *kafka.KafkaProducer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewKafkaProducer(cfg.Kafka.Writer, cfg.Kafka.Brokers, cfg.Kafka.UseTLS, cfg.ReferralConfig.AuditTopic)
		sinks = append(sinks, NewKafkaAuditSink(producer))
	}

	var (
		snapshots   TreeSnapshots
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(cfg.Redis)
		if err != nil {
			log.Error().Err(err).Str("section", "service").Msg("Unable to connect to redis, tree snapshots are disabled")
		} else {
			redisClient = client
			snapshots = referral_trees.New(client, cfg.Redis.TreeTTL)
		}
	}

	s := New(cfg, edges, queries.NewUsers(repo), snapshots, sinks)
	s.repo = repo
	s.redis = redisClient
	s.producer = producer
	return s
}

// New builds the service over already opened dependencies. snapshots may be nil.
func New(cfg config.Config, edges queries.ReferralEdgeStore, users queries.UserDirectory, snapshots TreeSnapshots, audit referral_tree.AuditSink) *Service {
	s := &Service{
		cfg:       cfg,
		edges:     edges,
		snapshots: snapshots,
	}
	s.Tree = referral_tree.Init(edges, users, referral_tree.Options{
		Commission:      referral_tree.NewTieredCommission(cfg.ReferralConfig.Tiers()...),
		AncestryCeiling: cfg.ReferralConfig.AncestryCeiling,
		ConflictRetries: cfg.ReferralConfig.ConflictRetries,
		Audit:           audit,
	})
	s.Tree.OnMutation(s.onTreeChanged)
	return s
}

// onTreeChanged drops stale snapshots and reloads the cached uplines of every touched branch
func (service *Service) onTreeChanged(ctx context.Context, event model.ReferralAuditEvent) {
	if service.snapshots != nil {
		service.snapshots.Invalidate(event.RootUserIDs...)
	}
	service.RefreshUplineBranches(ctx, event.RootUserIDs)
}

// RefreshUplineBranches reloads the upline cache for the given roots.
// A reload that finishes after a newer one for the same root is dropped.
func (service *Service) RefreshUplineBranches(ctx context.Context, rootUserIDs []uint64) {
	refresh := user_referrals.BeginRefresh(rootUserIDs...)
	edges := make([]*model.ReferralEdge, 0)
	for _, root := range rootUserIDs {
		branch, err := service.edges.Branch(ctx, root)
		if err != nil {
			log.Error().Err(err).Str("section", "service").Uint64("root_user_id", root).Msg("Unable to refresh upline cache")
			return
		}
		edges = append(edges, branch...)
	}
	user_referrals.SetBranches(refresh, edges)
}

// RefreshUplineCache reloads the whole upline cache
func (service *Service) RefreshUplineCache(ctx context.Context) error {
	refresh := user_referrals.BeginFullRefresh()
	edges, err := service.edges.Positioned(ctx)
	if err != nil {
		return err
	}
	user_referrals.SetUserReferralData(refresh, edges)
	return nil
}

// Close the connections opened by NewService
func (service *Service) Close() {
	if service.producer != nil {
		if err := service.producer.Close(); err != nil {
			log.Error().Err(err).Str("section", "service").Msg("Unable to close kafka producer")
		}
	}
	if service.redis != nil {
		if err := service.redis.Close(); err != nil {
			log.Error().Err(err).Str("section", "service").Msg("Unable to close redis pool")
		}
	}
	if service.repo != nil {
		queries.Close()
	}
}
