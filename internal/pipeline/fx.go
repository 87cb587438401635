package pipeline

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.uber.org/fx"

	"github.com/brandseal/brandseal/internal/config"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		newAWSClients,
		NewS3BlobStore,
		NewSFNRunner,
		NewLambdaRemovalRunner,
		func(s *S3BlobStore) BlobStore { return s },
		func(r *SFNRunner) Runner { return r },
		func(r *LambdaRemovalRunner) RemovalRunner { return r },
		NewDispatcher,
	),
)

func newAWSClients(cfg config.Config) (*s3.Client, *sfn.Client, *lambda.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Pipeline.Region),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return s3.NewFromConfig(awsCfg), sfn.NewFromConfig(awsCfg), lambda.NewFromConfig(awsCfg), nil
}
