package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service"
)

const (
	defaultGRPCTimeout = 10 * time.Second

	metadataActorID   = "x-actor-id"
	metadataActorRole = "x-actor-role"
	metadataActorTier = "x-actor-tier"

	tierPrivileged = "privileged"
)

type GRPCHandlers struct {
	evaluations    EvaluationService
	logger         *zap.Logger
	opportunityCap int
}

// NewGRPCHandlers initializes the gRPC handlers. A non-positive cap uses
// opportunity.DefaultCap.
func NewGRPCHandlers(evaluations EvaluationService, logger *zap.Logger, opportunityCap int) *GRPCHandlers {
	if evaluations == nil {
		panic("nil EvaluationService provided to NewGRPCHandlers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opportunityCap <= 0 {
		opportunityCap = opportunity.DefaultCap
	}
	return &GRPCHandlers{
		evaluations:    evaluations,
		logger:         logger.Named("grpc-handler"),
		opportunityCap: opportunityCap,
	}
}

var _ EvaluationServiceServer = (*GRPCHandlers)(nil)

type caller struct {
	actor      service.Actor
	privileged bool
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func callerFromContext(ctx context.Context) (caller, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	id := firstValue(md, metadataActorID)
	if id == "" {
		return caller{}, status.Error(codes.Unauthenticated, "missing "+metadataActorID+" metadata")
	}
	role := service.RoleOwner
	if strings.EqualFold(firstValue(md, metadataActorRole), string(service.RoleAdmin)) {
		role = service.RoleAdmin
	}
	return caller{
		actor:      service.Actor{ID: id, Role: role},
		privileged: strings.EqualFold(firstValue(md, metadataActorTier), tierPrivileged),
	}, nil
}

// limit is the number of opportunities the caller may see.
func (s *GRPCHandlers) limit(c caller) int {
	if c.privileged {
		return 0
	}
	return s.opportunityCap
}

func (s *GRPCHandlers) begin(ctx context.Context, in *structpb.Struct, req any) (context.Context, context.CancelFunc, caller, error) {
	c, err := callerFromContext(ctx)
	if err != nil {
		return nil, nil, caller{}, err
	}
	if err := decode(in, req); err != nil {
		return nil, nil, caller{}, status.Error(codes.InvalidArgument, err.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, defaultGRPCTimeout)
	return ctx, cancel, c, nil
}

func (s *GRPCHandlers) reply(op string, v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.String("op", op), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "%s failed: encode response", op)
	}
	return out, nil
}

func validationStatus(verr *questionnaire.ValidationError) error {
	st := status.New(codes.InvalidArgument, verr.Error())
	br := &errdetails.BadRequest{}
	for _, f := range verr.Failures {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       f.Field,
			Description: string(f.Code) + ": " + f.Message,
		})
	}
	if detailed, err := st.WithDetails(br); err == nil {
		return detailed.Err()
	}
	return st.Err()
}

func insufficientStatus(ierr *service.InsufficientDataError) error {
	st := status.New(codes.FailedPrecondition, ierr.Error())
	pf := &errdetails.PreconditionFailure{}
	for _, field := range ierr.Missing {
		pf.Violations = append(pf.Violations, &errdetails.PreconditionFailure_Violation{
			Type:        "MISSING_FIELD",
			Subject:     field,
			Description: field + " is required to value the business",
		})
	}
	if detailed, err := st.WithDetails(pf); err == nil {
		return detailed.Err()
	}
	return st.Err()
}

func (s *GRPCHandlers) handleError(ctx context.Context, op string, err error) error {
	switch ctx.Err() {
	case context.Canceled:
		s.logger.Warn("request canceled", zap.String("op", op))
		return status.Error(codes.Canceled, "request canceled")
	case context.DeadlineExceeded:
		s.logger.Warn("request timeout", zap.String("op", op))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}

	var verr *questionnaire.ValidationError
	var ierr *service.InsufficientDataError

	switch {
	case errors.As(err, &verr):
		s.logger.Info("validation failed", zap.String("op", op), zap.Int("failures", len(verr.Failures)))
		return validationStatus(verr)
	case errors.As(err, &ierr):
		s.logger.Info("insufficient data", zap.String("op", op), zap.Strings("missing", ierr.Missing))
		return insufficientStatus(ierr)
	case errors.Is(err, service.ErrMissingActor):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		s.logger.Warn("ownership check failed", zap.String("op", op))
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidStatus):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrAlreadyDeleted),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrNoValuation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrCascadeFailure):
		s.logger.Error("cascade failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Unavailable, "soft delete rolled back, retry")
	case errors.Is(err, service.ErrStorageFailure):
		s.logger.Error("storage failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Internal, "database error")
	default:
		s.logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Internal, "%s failed: %v", op, err)
	}
}

func (s *GRPCHandlers) evaluationReply(op string, ev models.Evaluation, c caller) (*structpb.Struct, error) {
	return s.reply(op, toEvaluationView(ev, s.limit(c)))
}

func (s *GRPCHandlers) evaluationListReply(op string, evs []models.Evaluation, c caller) (*structpb.Struct, error) {
	views := make([]evaluationView, len(evs))
	for i, ev := range evs {
		views[i] = toEvaluationView(ev, s.limit(c))
	}
	return s.reply(op, map[string]any{"evaluations": views})
}

func (s *GRPCHandlers) CreateEvaluation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submissionRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	ev, err := s.evaluations.CreateEvaluation(ctx, c.actor, req.response())
	if err != nil {
		return nil, s.handleError(ctx, "CreateEvaluation", err)
	}
	return s.evaluationReply("CreateEvaluation", ev, c)
}

func (s *GRPCHandlers) ReEvaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submissionRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.PriorID == "" {
		return nil, status.Error(codes.InvalidArgument, "priorId is required")
	}

	ev, err := s.evaluations.ReEvaluate(ctx, c.actor, req.PriorID, req.response())
	if err != nil {
		return nil, s.handleError(ctx, "ReEvaluate", err)
	}
	return s.evaluationReply("ReEvaluate", ev, c)
}

func (s *GRPCHandlers) SoftDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	ev, err := s.evaluations.SoftDelete(ctx, c.actor, req.ID)
	if err != nil {
		return nil, s.handleError(ctx, "SoftDelete", err)
	}
	return s.evaluationReply("SoftDelete", ev, c)
}

func (s *GRPCHandlers) RecordProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req progressRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.EvaluationID == "" || req.OpportunityID == "" {
		return nil, status.Error(codes.InvalidArgument, "evaluationId and opportunityId are required")
	}

	p, err := s.evaluations.RecordProgress(ctx, c.actor, service.ProgressUpdate{
		EvaluationID:   req.EvaluationID,
		OpportunityID:  req.OpportunityID,
		Status:         models.ProgressStatus(req.Status),
		ObservedImpact: req.ObservedImpact,
	})
	if err != nil {
		return nil, s.handleError(ctx, "RecordProgress", err)
	}
	return s.reply("RecordProgress", toProgressView(p))
}

func (s *GRPCHandlers) GetEvaluation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	ev, err := s.evaluations.GetEvaluation(ctx, c.actor, req.ID, req.IncludeDeleted)
	if err != nil {
		return nil, s.handleError(ctx, "GetEvaluation", err)
	}
	return s.evaluationReply("GetEvaluation", ev, c)
}

func (s *GRPCHandlers) ListEvaluations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ownerRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = c.actor.ID
	}

	evs, err := s.evaluations.ListEvaluations(ctx, c.actor, ownerID, req.IncludeDeleted)
	if err != nil {
		return nil, s.handleError(ctx, "ListEvaluations", err)
	}
	return s.evaluationListReply("ListEvaluations", evs, c)
}

func (s *GRPCHandlers) LatestEvaluation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ownerRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = c.actor.ID
	}

	ev, err := s.evaluations.LatestEvaluation(ctx, c.actor, ownerID)
	if err != nil {
		return nil, s.handleError(ctx, "LatestEvaluation", err)
	}
	return s.evaluationReply("LatestEvaluation", ev, c)
}

func (s *GRPCHandlers) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	evs, err := s.evaluations.History(ctx, c.actor, req.ID)
	if err != nil {
		return nil, s.handleError(ctx, "History", err)
	}
	return s.evaluationListReply("History", evs, c)
}

func (s *GRPCHandlers) ListProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req progressRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.EvaluationID == "" {
		return nil, status.Error(codes.InvalidArgument, "evaluationId is required")
	}

	rows, err := s.evaluations.ListProgress(ctx, c.actor, req.EvaluationID, req.IncludeDeleted)
	if err != nil {
		return nil, s.handleError(ctx, "ListProgress", err)
	}

	views := make([]progressView, len(rows))
	for i, p := range rows {
		views[i] = toProgressView(p)
	}
	return s.reply("ListProgress", map[string]any{"progress": views})
}

func (s *GRPCHandlers) CompareEvaluations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req compareRequest
	ctx, cancel, c, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.PriorID == "" || req.NextID == "" {
		return nil, status.Error(codes.InvalidArgument, "priorId and nextId are required")
	}

	cmp, err := s.evaluations.Compare(ctx, c.actor, req.PriorID, req.NextID)
	if err != nil {
		return nil, s.handleError(ctx, "CompareEvaluations", err)
	}
	return s.reply("CompareEvaluations", toComparisonView(cmp))
}
