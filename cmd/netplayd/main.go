package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/netplay/internal/config"
	"github.com/ehrlich-b/netplay/internal/diagnostics"
	"github.com/ehrlich-b/netplay/internal/ice"
	"github.com/ehrlich-b/netplay/internal/logger"
	"github.com/ehrlich-b/netplay/internal/nullcore"
	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/session"
	"github.com/ehrlich-b/netplay/internal/signaling"
)

func main() {
	root := &cobra.Command{
		Use:   "netplayd",
		Short: "netplay session daemon",
		RunE:  run,
	}

	root.Flags().String("signaling-url", "ws://localhost:8090/ws", "signaling server websocket URL")
	root.Flags().String("config", "netplayd.yaml", "tunables YAML file")
	root.Flags().String("diagnostics-db", "netplayd.db", "sqlite path for the desync/transfer event log")
	root.Flags().Int64("delay-frames", 2, "delay_frames override; when set, replaces the config file's value")
	root.Flags().StringSlice("stun", nil, "extra STUN server URL, repeatable (e.g. stun:stun.l.google.com:19302)")
	root.Flags().String("log-level", "info", "debug, info, warn, or error")
	root.Flags().String("log-file", "", "optional log file path, in addition to stdout")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := logger.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tunables := mgr.Get()

	if delayFlag, _ := cmd.Flags().GetInt64("delay-frames"); cmd.Flags().Changed("delay-frames") {
		tunables.DelayFrames = delayFlag
	}

	stunFlag, _ := cmd.Flags().GetStringSlice("stun")
	iceServers := iceServersFromConfig(tunables.ICEServers)
	for _, url := range stunFlag {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	diagDBPath, _ := cmd.Flags().GetString("diagnostics-db")
	diagLog, err := diagnostics.Open(diagDBPath)
	if err != nil {
		return fmt.Errorf("open diagnostics log: %w", err)
	}
	defer diagLog.Close()

	core := nullcore.New()
	sess, err := session.New(core, session.Config{
		FrameRate:   tunables.FrameRate,
		DelayFrames: tunables.DelayFrames,
		ZstdLevel:   tunables.ZstdCompressLevel,
		ICEServers:  iceServers,
		Logger:      logger.Log,
	})
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	defer sess.Close()

	var zeroButtons [packet.ButtonsPerPort]int16
	sess.InputSampler = func(int64) [packet.ButtonsPerPort]int16 { return zeroButtons }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	signalingURL, _ := cmd.Flags().GetString("signaling-url")
	bridge := &signaling.Bridge{
		URL:    signalingURL,
		Logger: logger.Log,
		OnStateChange: func(state string, stateErr error) {
			logger.Log.Info("signaling connection state", "state", state, "error", stateErr)
		},
	}

	bridge.Handlers = signaling.Handlers{
		OnConn: func(msg packet.ConnMessage) {
			sess.ApplyConn(msg)
			logger.Log.Info("assigned peer id", "peer_id", msg.PeerID)
		},
		OnMake: func(msg packet.MakeMessage) {
			sess.ApplyMake(msg)
			logger.Log.Info("room established", "our_port", sess.OurPort())
		},
		OnJoin: func(msg packet.JoinMessage) {
			if err := sess.HandleJoin(msg); err != nil {
				logger.Log.Warn("join rejected", "peer_id", msg.PeerID, "error", err)
			}
		},
		OnFail: func(msg packet.FailMessage) {
			logger.Log.Error("signaling server reported failure", "code", msg.Code, "reason", msg.Reason)
		},
	}

	sessionRouter := &signaling.Router{
		Bridge:  bridge,
		Manager: sess.AgentManager(),
		NewAgent: func(peerID uint64) (*ice.Agent, error) {
			return sess.EnsureAgent(peerID, sess.OurPeerID() < peerID)
		},
	}
	// Every agent EnsureAgent creates — whether triggered by an inbound
	// sign message or a room delta discovering a mesh peer we never
	// signaled with directly — gets the same outbound candidate/
	// gathering-done forwarding.
	sess.SetOnAgentCreated(func(peerID uint64, agent *ice.Agent) {
		sessionRouter.WireOutbound(ctx, peerID, agent)
	})

	bridge.Handlers.OnSign = func(msg packet.SignalPayload) {
		if err := sessionRouter.HandleSign(ctx, msg); err != nil {
			logger.Log.Warn("sign handling failed", "peer_id", msg.PeerID, "error", err)
			var sessErr *session.Error
			if errors.As(err, &sessErr) && sessErr.Kind == session.ProtocolViolation {
				failMsg := packet.FailMessage{Code: packet.FailCodeSpectatorCapacity, Reason: sessErr.Error()}
				if sendErr := bridge.SendFail(ctx, failMsg); sendErr != nil {
					logger.Log.Warn("failed to send capacity-rejection fail reply", "peer_id", msg.PeerID, "error", sendErr)
				}
			}
		}
	}
	bridge.Handlers.OnSigx = func(msg packet.SignalPayload) {
		if err := sessionRouter.HandleSigx(ctx, msg); err != nil {
			logger.Log.Warn("sigx handling failed", "peer_id", msg.PeerID, "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- bridge.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(tunables.FrameRate))
	defer ticker.Stop()

	logger.Log.Info("netplayd starting", "signaling_url", signalingURL, "delay_frames", tunables.DelayFrames)

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("shutting down")
			return nil
		case err := <-errCh:
			return fmt.Errorf("signaling bridge stopped: %w", err)
		case now := <-ticker.C:
			if err := sess.PollOnce(now.UnixMicro()); err != nil {
				logger.Log.Warn("poll error", "error", err)
			}
		}
	}
}

func iceServersFromConfig(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
