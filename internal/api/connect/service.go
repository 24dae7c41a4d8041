// Package connect provides the Connect RPC round service.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/musicalchairs/internal/app/library"
	"github.com/osa030/musicalchairs/internal/app/notification"
	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/app/session"
	"github.com/osa030/musicalchairs/internal/domain/settings"
)

// RoundServiceName is the fully-qualified name of the round service.
const RoundServiceName = "musicalchairs.v1.RoundService"

// Procedure paths of the round service.
const (
	GetStatusProcedure      = "/" + RoundServiceName + "/GetStatus"
	StartSessionProcedure   = "/" + RoundServiceName + "/StartSession"
	BeginProcedure          = "/" + RoundServiceName + "/Begin"
	PauseProcedure          = "/" + RoundServiceName + "/Pause"
	ResumeProcedure         = "/" + RoundServiceName + "/Resume"
	SkipProcedure           = "/" + RoundServiceName + "/Skip"
	EndSessionProcedure     = "/" + RoundServiceName + "/EndSession"
	GetSettingsProcedure    = "/" + RoundServiceName + "/GetSettings"
	UpdateSettingsProcedure = "/" + RoundServiceName + "/UpdateSettings"
	SetForegroundProcedure  = "/" + RoundServiceName + "/SetForeground"
	SetVolumeProcedure      = "/" + RoundServiceName + "/SetVolume"
	ListPlaylistsProcedure  = "/" + RoundServiceName + "/ListPlaylists"
	WatchProcedure          = "/" + RoundServiceName + "/Watch"
)

// RoundService implements the round service over a session manager.
type RoundService struct {
	session *session.Manager
}

// NewRoundService creates a new RoundService.
func NewRoundService(session *session.Manager) *RoundService {
	return &RoundService{session: session}
}

// NewRoundServiceHandler builds an HTTP handler serving every procedure and
// returns the path prefix to mount it on.
func NewRoundServiceHandler(svc *RoundService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(BeginProcedure, connect.NewUnaryHandler(BeginProcedure, svc.command(svc.session.Begin), opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.command(svc.session.Pause), opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.command(svc.session.Resume), opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.command(svc.session.Skip), opts...))
	mux.Handle(EndSessionProcedure, connect.NewUnaryHandler(EndSessionProcedure, svc.EndSession, opts...))
	mux.Handle(GetSettingsProcedure, connect.NewUnaryHandler(GetSettingsProcedure, svc.GetSettings, opts...))
	mux.Handle(UpdateSettingsProcedure, connect.NewUnaryHandler(UpdateSettingsProcedure, svc.UpdateSettings, opts...))
	mux.Handle(SetForegroundProcedure, connect.NewUnaryHandler(SetForegroundProcedure, svc.SetForeground, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(ListPlaylistsProcedure, connect.NewUnaryHandler(ListPlaylistsProcedure, svc.ListPlaylists, opts...))
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, svc.Watch, opts...))
	return "/" + RoundServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *RoundService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.statusResponse(ctx)
}

// StartSession loads a playlist or a single track into a new session.
// With "begin" set the first round starts immediately.
func (s *RoundService) StartSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var params struct {
		PlaylistID string `mapstructure:"playlist_id"`
		TrackID    string `mapstructure:"track_id"`
		Begin      bool   `mapstructure:"begin"`
	}
	if err := decodeStruct(req.Msg, &params); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var err error
	switch {
	case params.PlaylistID != "" && params.TrackID != "":
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("playlist_id and track_id are exclusive"))
	case params.PlaylistID != "":
		_, err = s.session.StartPlaylist(ctx, params.PlaylistID)
	case params.TrackID != "":
		_, err = s.session.StartTrack(ctx, params.TrackID)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("playlist_id or track_id is required"))
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	if params.Begin {
		if err := s.session.Begin(); err != nil {
			return nil, toConnectError(err)
		}
	}
	return s.statusResponse(ctx)
}

// command adapts a session command into a unary handler returning the status.
func (s *RoundService) command(fn func() error) func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
		if err := fn(); err != nil {
			return nil, toConnectError(err)
		}
		return s.statusResponse(ctx)
	}
}

// EndSession ends the current session.
func (s *RoundService) EndSession(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	err := s.session.End(ctx)
	switch {
	case err == nil:
	case errors.Is(err, round.ErrTransportFailure):
		// The session is gone; only the player did not confirm.
		zlog.Warn().Err(err).Msg("connect: session ended with transport failure")
	default:
		return nil, toConnectError(err)
	}
	return s.statusResponse(ctx)
}

// GetSettings returns the live settings record and its bounds.
func (s *RoundService) GetSettings(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	cfg, _, _ := s.session.Settings()
	return settingsResponse(cfg)
}

// UpdateSettings merges the given keys into the live record, then
// validates and persists it.
func (s *RoundService) UpdateSettings(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	changes := req.Msg.AsMap()
	cfg, err := s.session.UpdateSettings(ctx, func(current settings.Record) (settings.Record, error) {
		values, err := current.ToMap()
		if err != nil {
			return current, err
		}
		for k, v := range changes {
			values[k] = v
		}
		return settings.DecodeRecord(values)
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return settingsResponse(cfg)
}

// SetForeground reports a host lifecycle transition.
func (s *RoundService) SetForeground(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var params struct {
		Foreground bool `mapstructure:"foreground"`
	}
	if err := decodeStruct(req.Msg, &params); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	changed := s.session.SetForeground(params.Foreground)

	msg, err := newStruct(map[string]any{"changed": changed, "foreground": params.Foreground})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SetVolume sets the player's output volume in percent.
func (s *RoundService) SetVolume(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var params struct {
		Volume *int `mapstructure:"volume"`
	}
	if err := decodeStruct(req.Msg, &params); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if params.Volume == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("volume is required"))
	}

	volume, err := s.session.SetVolume(ctx, *params.Volume)
	if err != nil {
		return nil, toConnectError(err)
	}
	msg, err := newStruct(map[string]any{"volume": volume, "volume_level": player.VolumeLevel(volume)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ListPlaylists returns the library playlists.
func (s *RoundService) ListPlaylists(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	playlists, err := s.session.Playlists(ctx)
	switch {
	case errors.Is(err, library.ErrFetchFailure):
		// Callers see an empty library rather than an error.
		zlog.Warn().Err(err).Msg("connect: playlists unavailable")
	case err != nil:
		return nil, toConnectError(err)
	}

	items := make([]any, 0, len(playlists))
	for _, p := range playlists {
		items = append(items, playlistView(p).fields())
	}
	msg, err := newStruct(map[string]any{"playlists": items})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Watch streams notifications until the client disconnects. The current
// status is sent first with sequence number zero.
func (s *RoundService) Watch(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	first := NotificationView{Kind: "status", Status: statusView(s.session.Status(ctx))}
	msg, err := newStruct(first.fields())
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := stream.Send(msg); err != nil {
		return err
	}

	notifier := s.session.Notifications()
	id, done := notifier.Subscribe(&watchStream{stream: stream})
	zlog.Debug().Msgf("connect: watch started: id=%s", id)

	select {
	case <-ctx.Done():
	case <-done:
	}
	notifier.Unsubscribe(id)
	<-done
	zlog.Debug().Msgf("connect: watch finished: id=%s", id)
	return nil
}

// watchStream adapts a server stream to a notification subscriber.
type watchStream struct {
	stream *connect.ServerStream[structpb.Struct]
}

func (w *watchStream) Send(n *notification.Notification) error {
	msg, err := newStruct(notificationView(n).fields())
	if err != nil {
		return err
	}
	return w.stream.Send(msg)
}

func (s *RoundService) statusResponse(ctx context.Context) (*connect.Response[structpb.Struct], error) {
	msg, err := newStruct(statusView(s.session.Status(ctx)).fields())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func settingsResponse(cfg settings.RoundConfig) (*connect.Response[structpb.Struct], error) {
	fields, err := settingsFields(cfg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := newStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toConnectError maps domain errors to Connect codes.
func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrEmptyPlaylist):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, settings.ErrInvalidSettings), errors.Is(err, player.ErrInvalidVolume):
		code = connect.CodeInvalidArgument
	case errors.Is(err, session.ErrVolumeUnsupported):
		code = connect.CodeUnimplemented
	case errors.Is(err, library.ErrFetchFailure), errors.Is(err, round.ErrTransportFailure),
		errors.Is(err, session.ErrClosed):
		code = connect.CodeUnavailable
	}
	if code == connect.CodeInternal {
		zlog.Error().Err(err).Msg("connect: unexpected error")
	}
	return connect.NewError(code, err)
}
