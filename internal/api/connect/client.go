package connect

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// RoundClient calls the round service.
type RoundClient struct {
	getStatus      *connect.Client[emptypb.Empty, structpb.Struct]
	startSession   *connect.Client[structpb.Struct, structpb.Struct]
	begin          *connect.Client[emptypb.Empty, structpb.Struct]
	pause          *connect.Client[emptypb.Empty, structpb.Struct]
	resume         *connect.Client[emptypb.Empty, structpb.Struct]
	skip           *connect.Client[emptypb.Empty, structpb.Struct]
	endSession     *connect.Client[emptypb.Empty, structpb.Struct]
	getSettings    *connect.Client[emptypb.Empty, structpb.Struct]
	updateSettings *connect.Client[structpb.Struct, structpb.Struct]
	setForeground  *connect.Client[structpb.Struct, structpb.Struct]
	setVolume      *connect.Client[structpb.Struct, structpb.Struct]
	listPlaylists  *connect.Client[emptypb.Empty, structpb.Struct]
	watch          *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewRoundClient creates a client for the server at baseURL. A non-empty
// token is sent as the admin token on every call.
func NewRoundClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *RoundClient {
	if token != "" {
		opts = append(opts, connect.WithInterceptors(tokenInjector{token: token}))
	}
	empty := func(procedure string) *connect.Client[emptypb.Empty, structpb.Struct] {
		return connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	withArgs := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &RoundClient{
		getStatus:      empty(GetStatusProcedure),
		startSession:   withArgs(StartSessionProcedure),
		begin:          empty(BeginProcedure),
		pause:          empty(PauseProcedure),
		resume:         empty(ResumeProcedure),
		skip:           empty(SkipProcedure),
		endSession:     empty(EndSessionProcedure),
		getSettings:    empty(GetSettingsProcedure),
		updateSettings: withArgs(UpdateSettingsProcedure),
		setForeground:  withArgs(SetForegroundProcedure),
		setVolume:      withArgs(SetVolumeProcedure),
		listPlaylists:  empty(ListPlaylistsProcedure),
		watch:          empty(WatchProcedure),
	}
}

// GetStatus returns the session status.
func (c *RoundClient) GetStatus(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.getStatus)
}

// StartSession starts a session from a playlist or a single track.
func (c *RoundClient) StartSession(ctx context.Context, playlistID, trackID string, begin bool) (*StatusView, error) {
	msg, err := newStruct(map[string]any{
		"playlist_id": playlistID,
		"track_id":    trackID,
		"begin":       begin,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.startSession.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return decodeStatus(resp.Msg)
}

// Begin starts the first round.
func (c *RoundClient) Begin(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.begin)
}

// Pause pauses the session.
func (c *RoundClient) Pause(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.pause)
}

// Resume resumes the session.
func (c *RoundClient) Resume(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.resume)
}

// Skip skips the current track.
func (c *RoundClient) Skip(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.skip)
}

// EndSession ends the session.
func (c *RoundClient) EndSession(ctx context.Context) (*StatusView, error) {
	return callStatus(ctx, c.endSession)
}

// GetSettings returns the live settings.
func (c *RoundClient) GetSettings(ctx context.Context) (*SettingsView, error) {
	resp, err := c.getSettings.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	v, err := decodeSettings(resp.Msg)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateSettings sends the given record keys; keys left out keep their
// current values.
func (c *RoundClient) UpdateSettings(ctx context.Context, values map[string]any) (*SettingsView, error) {
	msg, err := newStruct(values)
	if err != nil {
		return nil, err
	}
	resp, err := c.updateSettings.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	v, err := decodeSettings(resp.Msg)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SetForeground reports the host lifecycle state. It returns whether the
// state changed.
func (c *RoundClient) SetForeground(ctx context.Context, foreground bool) (bool, error) {
	msg, err := newStruct(map[string]any{"foreground": foreground})
	if err != nil {
		return false, err
	}
	resp, err := c.setForeground.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return false, err
	}
	var out struct {
		Changed bool `mapstructure:"changed"`
	}
	if err := decodeStruct(resp.Msg, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

// SetVolume sets the output volume in percent and returns the volume now
// in effect.
func (c *RoundClient) SetVolume(ctx context.Context, percent int) (int, error) {
	msg, err := newStruct(map[string]any{"volume": percent})
	if err != nil {
		return 0, err
	}
	resp, err := c.setVolume.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return 0, err
	}
	var out struct {
		Volume int `mapstructure:"volume"`
	}
	if err := decodeStruct(resp.Msg, &out); err != nil {
		return 0, err
	}
	return out.Volume, nil
}

// ListPlaylists returns the library playlists.
func (c *RoundClient) ListPlaylists(ctx context.Context) ([]PlaylistView, error) {
	resp, err := c.listPlaylists.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	var out struct {
		Playlists []PlaylistView `mapstructure:"playlists"`
	}
	if err := decodeStruct(resp.Msg, &out); err != nil {
		return nil, err
	}
	return out.Playlists, nil
}

// Watch calls fn for every notification until ctx is done, the stream
// ends, or fn returns an error.
func (c *RoundClient) Watch(ctx context.Context, fn func(NotificationView) error) error {
	stream, err := c.watch.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		var v NotificationView
		if err := decodeStruct(stream.Msg(), &v); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return stream.Err()
}

func callStatus(ctx context.Context, client *connect.Client[emptypb.Empty, structpb.Struct]) (*StatusView, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return decodeStatus(resp.Msg)
}

func decodeStatus(msg *structpb.Struct) (*StatusView, error) {
	var v StatusView
	if err := decodeStruct(msg, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
