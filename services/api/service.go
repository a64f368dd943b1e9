// Package api exposes the sampling engine over HTTP and gRPC.
package api

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	pb "qbenchsim/proto"
	"qbenchsim/services/arrowpipeline"
	"qbenchsim/services/dataset"
	"qbenchsim/services/engine"
	"qbenchsim/services/errs"
)

// ProportionPlaces is the number of decimal digits of reported proportions.
const ProportionPlaces = 6

// Service implements the Sampler gRPC service and the REST API.
type Service struct {
	engine   *engine.Engine
	catalog  *dataset.Catalog
	pipeline *arrowpipeline.Pipeline
	logger   *zap.Logger
}

// NewService wires the engine, dataset catalog and Arrow pipeline together.
func NewService(eng *engine.Engine, catalog *dataset.Catalog, pipeline *arrowpipeline.Pipeline, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: eng, catalog: catalog, pipeline: pipeline, logger: logger}
}

// Fetch implements the gRPC Fetch method
func (s *Service) Fetch(ctx context.Context, req *pb.FetchRequest) (*pb.FetchResponse, error) {
	res, err := s.engine.Fetch(ctx, engine.Request{
		Dataset:   req.Dataset,
		Algorithm: req.Algorithm,
		Size:      int(req.Size),
		Backend:   req.Backend,
		Mirror:    req.Mirror,
		Shots:     int(req.Shots),
		Exact:     req.Exact,
		Random:    req.Random,
		Seed:      req.Seed,
	})
	if err != nil {
		s.logger.Warn("gRPC fetch failed", zap.String("algorithm", req.Algorithm), zap.Error(err))
		return nil, status.Error(errs.CodeOf(err).GRPCCode(), err.Error())
	}
	return ToResponse(res), nil
}

// ToResponse renders an engine result as a wire response.
func ToResponse(res *engine.Result) *pb.FetchResponse {
	counts := make(map[string]int64, len(res.Counts))
	for bits, n := range res.Counts {
		counts[bits] = int64(n)
	}
	props := make(map[string]string, len(res.Counts))
	for bits, p := range res.Counts.Proportions(ProportionPlaces) {
		props[bits] = p.String()
	}
	return &pb.FetchResponse{
		RequestId:    res.RequestID,
		Dataset:      res.Dataset,
		Mode:         string(res.Mode),
		Counts:       counts,
		Proportions:  props,
		Total:        int64(res.Total()),
		RawTotal:     int64(res.RawTotal),
		Consumed:     int64(res.Consumed),
		CursorStart:  int64(res.CursorStart),
		CursorEnd:    int64(res.CursorEnd),
		SamplingSeed: res.Seeds.Sampling,
		ExactSeed:    res.Seeds.Exact,
	}
}

func (s *Service) datasetOrDefault(name string) string {
	if name == "" {
		return s.engine.Config().Dataset
	}
	return name
}
