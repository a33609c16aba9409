package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tabload/internal/store"
)

// Auth methods accepted in store.AuthOptions.Method.
const (
	AuthPassword = "password"
	AuthAWSIAM   = "aws-iam"
	AuthAzure    = "azure"
	AuthGoogle   = "google"
)

// AzureScope is the Entra ID resource for Azure Database for PostgreSQL.
const AzureScope = "https://ossrdbms-aad.database.windows.net/.default"

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 2 * time.Minute

// TokenProvider issues short-lived passwords for cloud-hosted databases.
type TokenProvider interface {
	GetToken(ctx context.Context) (token string, expiresOn time.Time, err error)
	String() string
}

// configureAuth wires the selected credential source into the pool config.
// The returned func releases auth resources after the pool is closed.
func configureAuth(ctx context.Context, cfg *pgxpool.Config, opts store.AuthOptions) (func(), error) {
	switch opts.Method {
	case "", AuthPassword:
		return func() {}, nil

	case AuthAWSIAM:
		endpoint := net.JoinHostPort(cfg.ConnConfig.Host, strconv.Itoa(int(cfg.ConnConfig.Port)))
		p, err := newAWSTokenProvider(endpoint, opts.AWSRegion, cfg.ConnConfig.User)
		if err != nil {
			return nil, err
		}
		cfg.BeforeConnect = newTokenCache(p).beforeConnect
		return func() {}, nil

	case AuthAzure:
		p, err := newAzureTokenProvider(opts.AzureTenantID, opts.AzureClientID, opts.AzureClientSecret)
		if err != nil {
			return nil, err
		}
		cfg.BeforeConnect = newTokenCache(p).beforeConnect
		return func() {}, nil

	case AuthGoogle:
		if opts.GoogleInstance == "" {
			return nil, fmt.Errorf("google auth requires a Cloud SQL instance (project:region:instance)")
		}
		dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
		if err != nil {
			return nil, fmt.Errorf("create Cloud SQL dialer: %w", err)
		}
		instance := opts.GoogleInstance
		// The dialer owns TLS, so pgx must not negotiate it again.
		cfg.ConnConfig.TLSConfig = nil
		cfg.ConnConfig.Fallbacks = nil
		cfg.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.Dial(ctx, instance)
		}
		return func() { dialer.Close() }, nil

	default:
		return nil, fmt.Errorf("unsupported auth method %q", opts.Method)
	}
}

// tokenCache hands the same token to every new connection until it is
// close to expiring.
type tokenCache struct {
	provider TokenProvider

	mu        sync.Mutex
	token     string
	expiresOn time.Time
	now       func() time.Time
}

func newTokenCache(p TokenProvider) *tokenCache {
	return &tokenCache{provider: p, now: time.Now}
}

func (c *tokenCache) get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenRefreshMargin).Before(c.expiresOn) {
		return c.token, nil
	}

	token, expiresOn, err := c.provider.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire token from %s: %w", c.provider, err)
	}
	slog.Debug("database token refreshed", "provider", c.provider.String(), "expires_on", expiresOn)

	c.token, c.expiresOn = token, expiresOn
	return token, nil
}

func (c *tokenCache) beforeConnect(ctx context.Context, cc *pgx.ConnConfig) error {
	token, err := c.get(ctx)
	if err != nil {
		return err
	}
	cc.Password = token
	return nil
}

type awsTokenProvider struct {
	endpoint string
	region   string
	username string
}

func newAWSTokenProvider(endpoint, region, username string) (*awsTokenProvider, error) {
	if region == "" {
		return nil, fmt.Errorf("aws-iam auth requires a region (AWS_REGION)")
	}
	if username == "" {
		return nil, fmt.Errorf("aws-iam auth requires a database user in the DSN")
	}
	return &awsTokenProvider{endpoint: endpoint, region: region, username: username}, nil
}

// GetToken builds an RDS IAM token from the default AWS credential chain.
// RDS tokens are valid for 15 minutes.
func (p *awsTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load AWS config: %w", err)
	}
	token, err := auth.BuildAuthToken(ctx, p.endpoint, p.region, p.username, cfg.Credentials)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build RDS auth token: %w", err)
	}
	return token, time.Now().Add(15 * time.Minute), nil
}

func (p *awsTokenProvider) String() string {
	return fmt.Sprintf("aws-iam(endpoint=%s, region=%s, user=%s)", p.endpoint, p.region, p.username)
}

type azureTokenProvider struct {
	credential azcore.TokenCredential
	desc       string
}

// newAzureTokenProvider uses a service principal when a client secret is
// given and DefaultAzureCredential otherwise.
func newAzureTokenProvider(tenantID, clientID, clientSecret string) (*azureTokenProvider, error) {
	if clientSecret != "" {
		if tenantID == "" || clientID == "" {
			return nil, fmt.Errorf("azure service principal requires tenant and client ids")
		}
		cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure credential: %w", err)
		}
		return &azureTokenProvider{
			credential: cred,
			desc:       fmt.Sprintf("azure-sp(tenant=%s, client=%s)", tenantID, clientID),
		}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure default credential: %w", err)
	}
	return &azureTokenProvider{credential: cred, desc: "azure-default"}, nil
}

func (p *azureTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	tok, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{AzureScope}})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("azure token: %w", err)
	}
	return tok.Token, tok.ExpiresOn, nil
}

func (p *azureTokenProvider) String() string {
	return p.desc
}
