package ocpp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrStationNotFound = errors.New("station not found")
	ErrStationOffline  = errors.New("station offline")
	ErrRejected        = errors.New("charging profile rejected")
)

// HeartbeatInterval is the interval handed to stations on boot.
const HeartbeatInterval = 300

type Server struct {
	server   *http.Server
	upgrader websocket.Upgrader
	stations map[string]*models.ChargingStation
	sessions map[string]*session
	config   *config.Config
	logger   *logrus.Logger
	mutex    sync.RWMutex

	onCurrentLimitUpdate func(stationID string, limit float64)
}

func NewServer(cfg *config.Config, logger *logrus.Logger) *Server {
	s := &Server{
		stations: make(map[string]*models.ChargingStation),
		sessions: make(map[string]*session),
		config:   cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"ocpp1.6"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.initializeStations()

	return s
}

func (s *Server) initializeStations() {
	if s.config.Charging.StationID == "" {
		return
	}
	station := models.NewChargingStation(s.config.Charging.StationID, s.config.Charging.MinCurrent, s.config.Charging.MaxCurrent)
	s.stations[station.ID] = station
	s.logger.Infof("Initialized charging station %s", station.ID)
}

func (s *Server) SetCurrentLimitUpdateCallback(callback func(string, float64)) {
	s.onCurrentLimitUpdate = callback
}

// Handler serves the OCPP-J endpoint at /ws/<station id>.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.handleWebSocket)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Infof("Starting OCPP WebSocket server on %s", addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down server...")
		s.server.Close()
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Stop() {
	if s.server != nil {
		s.logger.Info("Stopping OCPP server")
		s.server.Close()
	}
}

func (s *Server) Station(stationID string) (*models.ChargingStation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	station, exists := s.stations[stationID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	return station, nil
}

// UpdateCurrentLimit sends a TxDefaultProfile limiting the connector to
// limit Amps and records it once the station accepts.
func (s *Server) UpdateCurrentLimit(ctx context.Context, stationID string, connectorID int, limit float64) error {
	station, err := s.Station(stationID)
	if err != nil {
		return err
	}

	s.mutex.RLock()
	sess, online := s.sessions[stationID]
	s.mutex.RUnlock()
	if !online {
		return fmt.Errorf("%w: %s", ErrStationOffline, stationID)
	}

	if err := sess.setChargingProfile(ctx, connectorID, limit); err != nil {
		return err
	}

	station.SetCurrentLimit(limit)
	s.logger.Infof("Updated current limit for %s to %.1fA", stationID, limit)

	if s.onCurrentLimitUpdate != nil {
		s.onCurrentLimitUpdate(stationID, limit)
	}

	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Path[len("/ws/"):]
	if stationID == "" {
		http.Error(w, "Station ID required in path", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	station, err := s.Station(stationID)
	if err != nil {
		s.logger.Warnf("Unknown station connected: %s", stationID)
	}

	sess := newSession(stationID, conn, s.logger)
	if station != nil {
		s.mutex.Lock()
		s.sessions[stationID] = sess
		station.SetConnected(true)
		s.mutex.Unlock()

		s.logger.Infof("Station %s connected", stationID)
		defer func() {
			sess.close()
			s.mutex.Lock()
			current := s.sessions[stationID] == sess
			if current {
				delete(s.sessions, stationID)
				station.SetConnected(false)
			}
			s.mutex.Unlock()
			if current {
				s.logger.Infof("Station %s disconnected", stationID)
			} else {
				s.logger.Infof("Stale connection of %s closed, newer session kept", stationID)
			}
		}()
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Errorf("Read message error for %s: %v", stationID, err)
			break
		}

		if messageType == websocket.TextMessage {
			s.logger.Debugf("Received from %s: %s", stationID, string(message))

			response := s.handleOCPPMessage(station, sess, message)
			if response != nil {
				if err := sess.write(response); err != nil {
					s.logger.Errorf("Write message error for %s: %v", stationID, err)
					break
				}
			}
		}
	}
}
