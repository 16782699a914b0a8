package ocpp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dynamic-load-balancer/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

// OCPP-J message type ids.
const (
	callMessage       = 2
	callResultMessage = 3
	callErrorMessage  = 4
)

type callResult struct {
	payload json.RawMessage
	err     error
}

// session is one connected charge point.
type session struct {
	stationID string
	conn      *websocket.Conn
	logger    *logrus.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan callResult
	closed  chan struct{}
	once    sync.Once
}

func newSession(stationID string, conn *websocket.Conn, logger *logrus.Logger) *session {
	return &session{
		stationID: stationID,
		conn:      conn,
		logger:    logger,
		pending:   make(map[string]chan callResult),
		closed:    make(chan struct{}),
	}
}

func (s *session) write(message []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, message)
}

func (s *session) close() {
	s.once.Do(func() { close(s.closed) })
}

// call sends a CALL and waits for the matching CALLRESULT.
func (s *session) call(ctx context.Context, action string, request interface{}) (json.RawMessage, error) {
	uid := uuid.New().String()
	frame, err := json.Marshal([]interface{}{callMessage, uid, action, request})
	if err != nil {
		return nil, err
	}

	ch := make(chan callResult, 1)
	s.mu.Lock()
	s.pending[uid] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, uid)
		s.mu.Unlock()
	}()

	if err := s.write(frame); err != nil {
		return nil, fmt.Errorf("sending %s to %s: %w", action, s.stationID, err)
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-s.closed:
		return nil, fmt.Errorf("%w: %s disconnected during %s", ErrStationOffline, s.stationID, action)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s to %s: %w", action, s.stationID, ctx.Err())
	}
}

func (s *session) resolve(uid string, res callResult) {
	s.mu.Lock()
	ch, ok := s.pending[uid]
	s.mu.Unlock()
	if !ok {
		s.logger.Warnf("Unexpected response %s from %s", uid, s.stationID)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (s *session) setChargingProfile(ctx context.Context, connectorID int, limit float64) error {
	schedule := &types.ChargingSchedule{
		StartSchedule:    types.NewDateTime(time.Now()),
		ChargingRateUnit: types.ChargingRateUnitAmperes,
		ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
			{StartPeriod: 0, Limit: limit},
		},
	}
	profile := &types.ChargingProfile{
		ChargingProfileId:      1,
		StackLevel:             0,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		ChargingSchedule:       schedule,
	}
	request := smartcharging.NewSetChargingProfileRequest(connectorID, profile)

	raw, err := s.call(ctx, smartcharging.SetChargingProfileFeatureName, request)
	if err != nil {
		return err
	}
	var confirmation smartcharging.SetChargingProfileConfirmation
	if err := json.Unmarshal(raw, &confirmation); err != nil {
		return fmt.Errorf("decoding SetChargingProfile response from %s: %w", s.stationID, err)
	}
	if confirmation.Status != smartcharging.ChargingProfileStatusAccepted {
		return fmt.Errorf("%w by %s: %s", ErrRejected, s.stationID, confirmation.Status)
	}
	return nil
}

// handleOCPPMessage answers station-initiated calls and routes responses to
// pending calls. station is nil for unknown stations.
func (s *Server) handleOCPPMessage(station *models.ChargingStation, sess *session, message []byte) []byte {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 3 {
		s.logger.Warnf("Malformed OCPP frame from %s: %s", sess.stationID, string(message))
		return nil
	}
	var messageType int
	var uid string
	if json.Unmarshal(frame[0], &messageType) != nil || json.Unmarshal(frame[1], &uid) != nil {
		s.logger.Warnf("Malformed OCPP frame from %s: %s", sess.stationID, string(message))
		return nil
	}

	if station != nil {
		station.Heartbeat()
	}

	switch messageType {
	case callResultMessage:
		sess.resolve(uid, callResult{payload: frame[2]})
		return nil
	case callErrorMessage:
		var code string
		_ = json.Unmarshal(frame[2], &code)
		sess.resolve(uid, callResult{err: fmt.Errorf("station %s returned error %s", sess.stationID, code)})
		return nil
	case callMessage:
	default:
		s.logger.Warnf("Unknown OCPP message type %d from %s", messageType, sess.stationID)
		return nil
	}

	if len(frame) < 4 {
		return nil
	}
	var action string
	if err := json.Unmarshal(frame[2], &action); err != nil {
		return nil
	}

	response, err := s.handleCall(station, sess.stationID, action, frame[3])
	if err != nil {
		s.logger.Errorf("Failed to handle %s from %s: %v", action, sess.stationID, err)
		b, _ := json.Marshal([]interface{}{callErrorMessage, uid, "FormationViolation", err.Error(), struct{}{}})
		return b
	}
	b, err := json.Marshal([]interface{}{callResultMessage, uid, response})
	if err != nil {
		s.logger.Errorf("Failed to encode %s response: %v", action, err)
		return nil
	}
	return b
}

func (s *Server) handleCall(station *models.ChargingStation, stationID, action string, payload json.RawMessage) (interface{}, error) {
	now := types.NewDateTime(time.Now())

	switch action {
	case core.BootNotificationFeatureName:
		var req core.BootNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		s.logger.Infof("Boot notification from %s: %s %s", stationID, req.ChargePointVendor, req.ChargePointModel)
		return core.BootNotificationConfirmation{
			CurrentTime: now,
			Interval:    HeartbeatInterval,
			Status:      core.RegistrationStatusAccepted,
		}, nil

	case core.HeartbeatFeatureName:
		return core.HeartbeatConfirmation{CurrentTime: now}, nil

	case core.StatusNotificationFeatureName:
		var req core.StatusNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if station != nil {
			station.SetStatus(string(req.Status))
		}
		s.logger.Infof("Station %s connector %d status: %s", stationID, req.ConnectorId, req.Status)
		return core.StatusNotificationConfirmation{}, nil

	case core.MeterValuesFeatureName:
		return core.MeterValuesConfirmation{}, nil
	}

	s.logger.Debugf("Unhandled action %s from %s", action, stationID)
	return struct{}{}, nil
}
