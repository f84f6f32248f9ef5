package grpc_control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-hub/src/logger"
	"trading-hub/src/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Hub is the part of the server the control service operates on.
type Hub interface {
	Stats() models.MHubStats
	Connections() []models.MConnectionInfo
	Publish(evt models.MOutboundEvent) bool
	Disconnect(connID string) bool
}

// ControlService lets operators and backend services inspect the hub and
// inject alerts or trading decisions.
type ControlService struct {
	Hub    Hub
	Logger *logger.Logger
	now    func() time.Time
}

// NewControlService creates a new instance of ControlService
func NewControlService(hub Hub, log *logger.Logger) *ControlService {
	return &ControlService{
		Hub:    hub,
		Logger: log,
		now:    time.Now,
	}
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.Hub.Stats()
	return toStruct(map[string]any{
		"connections":    stats.Connections,
		"topics":         stats.Topics,
		"started_at":     stats.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(s.now().Sub(stats.StartedAt).Seconds()),
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListConnections(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	conns := s.Hub.Connections()
	return toStruct(map[string]any{
		"count":       len(conns),
		"connections": conns,
	})
}

// -----------------------------------------------------------------------------

// PublishAlert queues an alert for subscribers of the alerts topic.
func (s *ControlService) PublishAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var alert models.MAlertPayload
	if err := fromStruct(req, &alert); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid alert: %v", err)
	}
	if alert.Message == "" {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}
	if alert.Level == "" {
		alert.Level = "info"
	}
	if alert.Source == "" {
		alert.Source = "operator"
	}

	queued := s.Hub.Publish(models.MOutboundEvent{
		Topics:  []string{models.TopicAlerts},
		Message: models.NewMessage(models.MsgAlert, alert),
	})
	s.Logger.Info("gRPC: alert %q (%s) queued=%v", alert.Message, alert.Level, queued)
	return queuedResponse(queued)
}

// -----------------------------------------------------------------------------

// PublishDecision queues a trading decision for subscribers of the trading topic.
func (s *ControlService) PublishDecision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var decision models.MTradingDecision
	if err := fromStruct(req, &decision); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid decision: %v", err)
	}
	if decision.Action == "" {
		return nil, status.Error(codes.InvalidArgument, "action is required")
	}
	if decision.Source == "" {
		decision.Source = "operator"
	}

	queued := s.Hub.Publish(models.MOutboundEvent{
		Topics:  []string{models.TopicTrading},
		Message: models.NewMessage(models.MsgTradingDecision, decision),
	})
	s.Logger.Info("gRPC: decision %s %s queued=%v", decision.Action, decision.Symbol, queued)
	return queuedResponse(queued)
}

// -----------------------------------------------------------------------------

func (s *ControlService) Disconnect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["connection_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "connection_id is required")
	}
	if !s.Hub.Disconnect(id) {
		return nil, status.Errorf(codes.NotFound, "connection %s not found", id)
	}
	s.Logger.Info("gRPC: disconnected %s", id)
	return toStruct(map[string]any{"disconnected": id})
}

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

// toStruct converts any JSON-encodable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("empty request")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func queuedResponse(queued bool) (*structpb.Struct, error) {
	if !queued {
		return nil, status.Error(codes.ResourceExhausted, "event queue full")
	}
	return toStruct(map[string]any{"queued": true})
}
