package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aculclasure/coderelay/internal/core/processor"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

type Logger interface {
	Printf(string, ...interface{})
}

// Scope is the OAuth2 scope requested for the mailbox. Reading messages and
// removing the UNREAD label both need gmail.modify.
const Scope = gmail.GmailModifyScope

// OAuth2Opt represents a functional option that can be applied to an OAuth2.
type OAuth2Opt func(*OAuth2)

// WithTokenFile accepts a filename for a file containing an OAuth2 token and
// returns an OAuth2Opt that wires the token file into an OAuth2 struct.
func WithTokenFile(tokFile string) OAuth2Opt {
	return func(o *OAuth2) {
		o.TokenFile = tokFile
	}
}

// WithRedirectServerPort accepts a port number and returns an OAuth2Opt that
// wires the port number into an OAuth2 struct.
func WithRedirectServerPort(port int) OAuth2Opt {
	return func(o *OAuth2) {
		o.RedirectServerPort = port
	}
}

// WithGoogleConfig wires the contents of a Google Developers Console
// credentials file into an OAuth2 struct.
func WithGoogleConfig(cfg []byte) OAuth2Opt {
	return func(o *OAuth2) {
		o.GoogleCfg = cfg
	}
}

// WithClientCredentials wires a bare OAuth2 client id and secret into an
// OAuth2 struct, for setups without a credentials file.
func WithClientCredentials(id, secret string) OAuth2Opt {
	return func(o *OAuth2) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithRefreshToken wires a long-lived refresh token into an OAuth2 struct. It
// is used when no token file is available.
func WithRefreshToken(tok string) OAuth2Opt {
	return func(o *OAuth2) {
		o.RefreshToken = tok
	}
}

// WithLogger accepts a Logger and returns an OAuth2Opt that wires the logger
// into an OAuth2 struct.
func WithLogger(logger Logger) OAuth2Opt {
	return func(o *OAuth2) {
		o.logger = logger
	}
}

// The OAuth2 type contains fields needed for communicating with the Google
// OAuth2 provider.
type OAuth2 struct {
	// The user's Google console client credentials in JSON format. Takes
	// precedence over ClientID and ClientSecret.
	GoogleCfg    []byte
	ClientID     string
	ClientSecret string
	// The name of the file containing the JSON-formatted OAuth2 token.
	TokenFile string
	// Used when TokenFile cannot be read.
	RefreshToken string
	// The port that the OAuth2 redirect server should listen on for requests
	// from the Google OAuth2 resource provider during setup.
	RedirectServerPort int
	cfg                *oauth2.Config
	tok                *oauth2.Token
	logger             Logger
}

// NewOAuth2 returns an OAuth2 struct configured by opts. Either a Google
// configuration or a client id and secret must be supplied; otherwise an
// error wrapping processor.ErrNotConfigured is returned.
func NewOAuth2(opts ...OAuth2Opt) (*OAuth2, error) {
	o := &OAuth2{
		TokenFile:          "token.json",
		RedirectServerPort: 9999,
		logger:             log.New(io.Discard, "", log.LstdFlags)}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.GoogleCfg) == 0 && (o.ClientID == "" || o.ClientSecret == "") {
		return nil, fmt.Errorf("gmail oauth2 needs a credentials file or a client id and secret: %w", processor.ErrNotConfigured)
	}
	return o, nil
}

// ReadGoogleConfig reads a Google Developers Console credentials file. An
// error is returned if the reader is nil, cannot be read, or is empty.
func ReadGoogleConfig(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("google configuration must not be nil")
	}
	cfgBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("got unexpected error reading google configuration: %w", err)
	}
	if len(cfgBytes) == 0 {
		return nil, errors.New("google configuration must not be empty")
	}
	return cfgBytes, nil
}

// LoadConfig initializes the private OAuth2 configuration of the *OAuth2
// receiver from GoogleCfg or, if that is empty, from ClientID and
// ClientSecret.
func (o *OAuth2) LoadConfig() error {
	if len(o.GoogleCfg) > 0 {
		cfg, err := google.ConfigFromJSON(o.GoogleCfg, Scope)
		if err != nil {
			return fmt.Errorf("parsing google credentials: %w", err)
		}
		o.cfg = cfg
	} else {
		o.cfg = &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{Scope},
			RedirectURL:  redirectURL(o.RedirectServerPort),
		}
	}
	o.logger.Printf("successfully loaded google oauth2 configuration for client %s", o.cfg.ClientID)
	return nil
}

// LoadToken loads an OAuth2 token from TokenFile or, failing that, builds one
// from RefreshToken. It never starts an interactive authorization; an error
// wrapping processor.ErrNotConfigured is returned when neither source exists.
func (o *OAuth2) LoadToken() error {
	err := o.loadLocalToken()
	if err == nil {
		o.logger.Printf("successfully loaded an oauth2 token from local file %s", o.TokenFile)
		return nil
	}
	o.logger.Printf("got error when attempting to load an oauth2 token from local file: %s: %s", o.TokenFile, err)
	if o.RefreshToken == "" {
		return fmt.Errorf("no oauth2 token in %s and no refresh token set, run setup first: %w", o.TokenFile, processor.ErrNotConfigured)
	}
	o.tok = &oauth2.Token{RefreshToken: o.RefreshToken}
	o.logger.Printf("using configured oauth2 refresh token")
	return nil
}

func (o *OAuth2) loadLocalToken() error {
	f, err := os.Open(o.TokenFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var tok oauth2.Token
	err = json.NewDecoder(f).Decode(&tok)
	if err != nil {
		return err
	}

	o.tok = &tok
	return nil
}

// Authorize runs an interactive AuthSession and stores the resulting token in
// o. The authorization URL is written to out.
func (o *OAuth2) Authorize(ctx context.Context, out io.Writer) error {
	if o.cfg == nil {
		return errors.New("oauth2 configuration must be loaded before authorizing")
	}
	session, err := NewAuthSession(o.cfg, o.RedirectServerPort, o.logger)
	if err != nil {
		return err
	}
	tok, err := session.Run(ctx, out)
	if err != nil {
		return err
	}
	o.tok = tok
	o.logger.Printf("successfully obtained an oauth2 token via browser authorization")
	return nil
}

// GetToken returns the privately stored OAuth2 token in the *OAuth2 receiver as
// a slice of bytes. An error is returned if the underlying OAuth2 token is nil
// or if there is problem encoding the underlying OAuth2 token into a byte slice.
func (o *OAuth2) GetToken() ([]byte, error) {
	if o.tok == nil {
		return nil, errors.New("underlying oauth2 token in oauth2 struct must not be nil")
	}

	bfr := new(bytes.Buffer)
	err := json.NewEncoder(bfr).Encode(o.tok)
	if err != nil {
		return nil, err
	}

	return bfr.Bytes(), nil
}

// SaveToken writes the privately stored OAuth2 token into the given file. An
// error is returned if there is a problem writing the token into the file.
func (o *OAuth2) SaveToken(file string) error {
	if o.tok == nil {
		return errors.New("underlying oauth2 token in oauth2 struct must not be nil")
	}
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(o.tok)
}

// Client returns an HTTP client that is OAuth2-enabled for communicating with
// the Gmail API. The client refreshes the access token on its own. An error
// is returned if the privately stored OAuth2 configuration or token fields
// are nil.
func (o *OAuth2) Client(ctx context.Context) (*http.Client, error) {
	if o.cfg == nil {
		return nil, errors.New("oauth2 configuration must be non-nil")
	}
	if o.tok == nil {
		return nil, errors.New("oauth2 token must be non-nil")
	}
	return o.cfg.Client(ctx, o.tok), nil
}

// AuthSession is a single browser-based authorization attempt. It owns a
// random state value and a loopback redirect server that lives only for the
// duration of Run.
type AuthSession struct {
	cfg    oauth2.Config
	state  string
	port   int
	logger Logger
}

// NewAuthSession returns a session for cfg whose redirect server listens on
// port. cfg is copied; its RedirectURL is pointed at the loopback server.
func NewAuthSession(cfg *oauth2.Config, port int, logger Logger) (*AuthSession, error) {
	if cfg == nil {
		return nil, errors.New("oauth2 configuration must be non-nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", log.LstdFlags)
	}
	s := &AuthSession{
		cfg:    *cfg,
		state:  uuid.NewString(),
		port:   port,
		logger: logger,
	}
	s.cfg.RedirectURL = redirectURL(port)
	return s, nil
}

// State returns the anti-forgery state value sent with the authorization URL.
func (s *AuthSession) State() string {
	return s.state
}

// AuthCodeURL returns the URL the user has to open to grant access.
func (s *AuthSession) AuthCodeURL() string {
	return s.cfg.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Run starts the redirect server, prints the authorization URL to out, waits
// for the provider to redirect back with a code and exchanges it for a token.
func (s *AuthSession) Run(ctx context.Context, out io.Writer) (*oauth2.Token, error) {
	svr, err := NewOAuth2RedirectServer(s.port, s.state)
	if err != nil {
		return nil, err
	}
	defer svr.Shutdown()
	go func() {
		if err := svr.ListenAndServe(); err != nil {
			s.logger.Printf("oauth2 redirect server stopped: %s", err)
		}
	}()

	fmt.Fprintf(out, "To continue, please open a web browser and go to the following URL: %s\n", s.AuthCodeURL())
	var code string
	select {
	case code = <-svr.NotifyAuthCode():
	case err = <-svr.NotifyError():
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.logger.Printf("received authorization code from redirect")

	return s.cfg.Exchange(ctx, code)
}

func redirectURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// OAuth2RedirectServer represents an HTTP server that handles oauth2 redirect
// requests and hands the authorization code returned by the oauth2 resource
// provider to whoever is waiting on NotifyAuthCode.
type OAuth2RedirectServer struct {
	Port           int
	state          string
	authCodes      chan string
	authCodeErrors chan error
	svr            *http.Server
}

// NewOAuth2RedirectServer accepts a listener port and the expected state value
// and returns an OAuth2RedirectServer struct. An error is returned if the port
// is invalid (e.g. not in the range 1024-65535) or the state is empty.
func NewOAuth2RedirectServer(port int, state string) (*OAuth2RedirectServer, error) {
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port must be in the range 1024-65535 (got %d)", port)
	}
	if state == "" {
		return nil, errors.New("state must not be empty")
	}

	redirectSvr := &OAuth2RedirectServer{
		Port:           port,
		state:          state,
		authCodes:      make(chan string, 1),
		authCodeErrors: make(chan error, 1),
		svr: &http.Server{
			Addr:         fmt.Sprintf("localhost:%d", port),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	redirectSvr.svr.Handler = http.HandlerFunc(redirectSvr.Handler)

	return redirectSvr, nil
}

// NotifyAuthCode returns a receive-only channel which receives OAuth2 auth codes
// from the OAuth2RedirectServer's Handler method when it handles a successful
// request from the Google OAuth2 provider.
func (o *OAuth2RedirectServer) NotifyAuthCode() <-chan string {
	return o.authCodes
}

// NotifyError returns a receive-only channel which receives any errors encountered
// by the OAuth2RedirectServer's Handler method.
func (o *OAuth2RedirectServer) NotifyError() <-chan error {
	return o.authCodeErrors
}

// ListenAndServe starts the OAuth2RedirectServer. An error is returned if the
// underlying HTTP server encounters any error other than the standard server
// closed error.
func (o *OAuth2RedirectServer) ListenAndServe() error {
	err := o.svr.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server wrapped by the OAuth2RedirectServer.
// If the server is not shutdown within 5 seconds, then it is force-stopped.
func (o *OAuth2RedirectServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return o.svr.Shutdown(ctx)
}

// Handler receives OAuth2 redirect requests from the Google OAuth2 provider,
// checks the state value, extracts the auth code and forwards it to the
// NotifyAuthCode channel. Invalid requests get an error response and the
// error is forwarded to the NotifyError channel. Only the first outcome is
// forwarded; later requests are answered but otherwise ignored.
func (o *OAuth2RedirectServer) Handler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errMsg := fmt.Sprintf("request method must be an http get (got %s)", r.Method)
		http.Error(w, errMsg, http.StatusMethodNotAllowed)
		o.sendError(errors.New(errMsg))
		return
	}

	queryString := r.URL.Query()
	if errParam := queryString.Get("error"); errParam != "" {
		errMsg := "authorization was denied: " + errParam
		http.Error(w, errMsg, http.StatusForbidden)
		o.sendError(errors.New(errMsg))
		return
	}

	if queryString.Get("state") != o.state {
		errMsg := "request state does not match the authorization session"
		http.Error(w, errMsg, http.StatusBadRequest)
		o.sendError(errors.New(errMsg))
		return
	}

	code := queryString.Get("code")
	if code == "" {
		errMsg := `request must contain a non-empty query parameter "code"`
		http.Error(w, errMsg, http.StatusBadRequest)
		o.sendError(errors.New(errMsg))
		return
	}

	w.Write([]byte("Successfully read authorization code sent by OAuth2 resource provider! You can close this window."))
	select {
	case o.authCodes <- code:
	default:
	}
}

func (o *OAuth2RedirectServer) sendError(err error) {
	select {
	case o.authCodeErrors <- err:
	default:
	}
}
