package searchindex

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	grpcPort       = 6334
	restPort       = 6333
	requestTimeout = 10 * time.Second
	maxMessageSize = 16 << 20
)

// QdrantBackend stores points in Qdrant over its gRPC API.
type QdrantBackend struct {
	client  *qdrant.Client
	log     *zap.Logger
	retries uint64
}

// ParseQdrantURL accepts "http://host:6333", "https://host" or "host:6334"
// and returns the gRPC endpoint. The REST port is mapped to the gRPC one.
func ParseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant url: %w", err)
	}
	useTLS = u.Scheme == "https" || u.Scheme == "grpcs"
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("qdrant url %q has no host", raw)
	}
	port = grpcPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, false, fmt.Errorf("qdrant port %q: %w", p, err)
		}
	}
	if port == restPort {
		port = grpcPort
	}
	return host, port, useTLS, nil
}

func NewQdrantBackend(rawURL, apiKey string, log *zap.Logger) (*QdrantBackend, error) {
	host, port, useTLS, err := ParseQdrantURL(rawURL)
	if err != nil {
		return nil, err
	}
	cfg := &qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	}
	if !useTLS {
		cfg.GrpcOptions = append(cfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("qdrant client ready", zap.String("host", host), zap.Int("port", port), zap.Bool("tls", useTLS))
	return &QdrantBackend{client: client, log: log, retries: 3}, nil
}

func (q *QdrantBackend) EnsureCollection(ctx context.Context, name string, size int) error {
	var exists bool
	err := q.do(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = q.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	q.log.Info("creating qdrant collection", zap.String("collection", name), zap.Int("size", size))
	return q.do(ctx, "create_collection", func(ctx context.Context) error {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return err
	})
}

func (q *QdrantBackend) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}
	return q.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
}

func (q *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	var res []*qdrant.ScoredPoint
	err := q.do(ctx, "query", func(ctx context.Context) error {
		var err error
		res, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res))
	for _, p := range res {
		h := Hit{ID: p.GetId().GetUuid(), Score: p.GetScore(), Payload: make(map[string]string, len(p.GetPayload()))}
		for k, v := range p.GetPayload() {
			h.Payload[k] = v.GetStringValue()
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (q *QdrantBackend) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(id)
	}
	return q.do(ctx, "delete", func(ctx context.Context) error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pids},
				},
			},
		})
		return err
	})
}

func (q *QdrantBackend) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (q *QdrantBackend) Close() error { return q.client.Close() }

// do runs op with a per-call timeout and retries transient gRPC failures.
func (q *QdrantBackend) do(ctx context.Context, name string, op func(context.Context) error) error {
	b := retry.WithMaxRetries(q.retries, retry.WithJitterPercent(10, retry.NewExponential(250*time.Millisecond)))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		err := op(cctx)
		if err != nil && isTransientError(err) {
			q.log.Debug("retrying qdrant call", zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("qdrant %s: %w", name, err)
	}
	return nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}
