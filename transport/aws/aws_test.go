package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowrpc/transport"
	"github.com/drblury/flowrpc/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsFanout)
	assert.True(t, caps.SupportsTracing)
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func stubFactories(t *testing.T) {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalResolver := TopicResolverFactory
	originalPub := PublisherFactory
	originalSub := SubscriberFactory
	originalSuffix := QueueSuffix
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		TopicResolverFactory = originalResolver
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
		QueueSuffix = originalSuffix
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "eu-west-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
	QueueSuffix = func() string { return "node1" }
}

func TestBuild(t *testing.T) {
	t.Run("wires publisher and subscriber", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		var gotSub sns.SubscriberConfig

		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			gotSub = cfg
			return sub, nil
		}

		cfg := &transporttest.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.Equal(t, "us-east-1", gotSub.AWSConfig.Region)
		assert.Empty(t, gotSub.OptFns)
		require.NotNil(t, gotSub.GenerateSqsQueueName)
	})

	t.Run("custom endpoint adds resolver options", func(t *testing.T) {
		stubFactories(t)
		var gotPub sns.PublisherConfig
		var gotSQS sqs.SubscriberConfig

		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			gotPub = cfg
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			gotSQS = sqsCfg
			return &transporttest.Subscriber{}, nil
		}

		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Len(t, gotPub.OptFns, 1)
		assert.Len(t, gotSQS.OptFns, 1)
	})

	t.Run("config loader error", func(t *testing.T) {
		stubFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no credentials")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.EqualError(t, err, "no credentials")
	})

	t.Run("topic resolver error", func(t *testing.T) {
		stubFactories(t)
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			return nil, errors.New("bad account")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.EqualError(t, err, "bad account")
	})

	t.Run("subscriber error closes publisher", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.EqualError(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		stubFactories(t)
		_, err := Build(context.Background(), &transporttest.Config{AWSEndpoint: "://bad"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "failed to parse AWS endpoint")
	})
}

func TestQueueNameGenerator(t *testing.T) {
	gen := queueNameGenerator("node1")

	name, err := gen(context.Background(), sns.TopicArn("arn:aws:sns:us-east-1:000000000000:ticks"))
	require.NoError(t, err)
	assert.Equal(t, "ticks-node1", name)
}

func TestResolveAccountAndRegion(t *testing.T) {
	tests := []struct {
		name        string
		cfg         transport.Config
		fallback    string
		wantAccount string
		wantRegion  string
	}{
		{name: "nil config", cfg: nil, fallback: "eu-west-1", wantRegion: "eu-west-1"},
		{
			name:        "explicit values",
			cfg:         &transporttest.Config{AWSAccountID: "123456789012", AWSRegion: "us-east-1"},
			fallback:    "eu-west-1",
			wantAccount: "123456789012",
			wantRegion:  "us-east-1",
		},
		{
			name:        "quoted account is trimmed",
			cfg:         &transporttest.Config{AWSAccountID: "'123456789012'"},
			fallback:    "eu-west-1",
			wantAccount: "123456789012",
			wantRegion:  "eu-west-1",
		},
		{
			name:        "localstack default account",
			cfg:         &transporttest.Config{AWSEndpoint: "http://localhost:4566"},
			wantAccount: localstackAccountID,
		},
		{
			name:        "localstack rejects short account",
			cfg:         &transporttest.Config{AWSEndpoint: "http://localhost:4566", AWSAccountID: "123"},
			wantAccount: localstackAccountID,
		},
		{
			name:        "short account kept without endpoint",
			cfg:         &transporttest.Config{AWSAccountID: "123"},
			wantAccount: "123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, region := resolveAccountAndRegion(tt.cfg, watermill.NopLogger{}, tt.fallback)
			assert.Equal(t, tt.wantAccount, account)
			assert.Equal(t, tt.wantRegion, region)
		})
	}
}

func TestAWSEndpointURL(t *testing.T) {
	u, err := awsEndpointURL(nil)
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = awsEndpointURL(&transporttest.Config{AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)
}

func TestStaticCredentialsProvider(t *testing.T) {
	creds, err := staticCredentialsProvider("key", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
