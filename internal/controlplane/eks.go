package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"
)

const (
	eksService            = "eks"
	defaultNodegroupName  = "ci-default"
	defaultCallTimeout    = 30 * time.Second
	defaultNodeType       = "t3.large"
	defaultDesiredNodes   = 2
	defaultClusterVersion = "1.30"
)

// eksAPI is the subset of the EKS client used here.
type eksAPI interface {
	CreateCluster(ctx context.Context, in *eks.CreateClusterInput, optFns ...func(*eks.Options)) (*eks.CreateClusterOutput, error)
	DescribeCluster(ctx context.Context, in *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
	CreateNodegroup(ctx context.Context, in *eks.CreateNodegroupInput, optFns ...func(*eks.Options)) (*eks.CreateNodegroupOutput, error)
	DescribeNodegroup(ctx context.Context, in *eks.DescribeNodegroupInput, optFns ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error)
}

// EKSConfig carries the account-level settings a cluster create needs.
type EKSConfig struct {
	Region           string
	ClusterRoleARN   string
	NodeRoleARN      string
	SubnetIDs        []string
	SecurityGroupIDs []string
	CallTimeout      time.Duration
}

// EKS provisions clusters on Amazon EKS.
type EKS struct {
	api eksAPI
	cfg EKSConfig
}

var _ ControlPlane = (*EKS)(nil)

// NewEKS loads the default AWS credential chain for cfg.Region.
func NewEKS(ctx context.Context, cfg EKSConfig) (*EKS, error) {
	if cfg.ClusterRoleARN == "" || len(cfg.SubnetIDs) == 0 {
		return nil, errors.New("eks: cluster role ARN and at least one subnet are required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("eks: load aws config: %w", err)
	}
	return newEKS(eks.NewFromConfig(awsCfg), cfg), nil
}

func newEKS(api eksAPI, cfg EKSConfig) *EKS {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &EKS{api: api, cfg: cfg}
}

func (e *EKS) CreateCluster(ctx context.Context, spec ClusterSpec) (*Cluster, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	version := spec.Version
	if version == "" {
		version = defaultClusterVersion
	}
	out, err := e.api.CreateCluster(ctx, &eks.CreateClusterInput{
		Name:    aws.String(spec.Name),
		RoleArn: aws.String(e.cfg.ClusterRoleARN),
		Version: aws.String(version),
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:        e.cfg.SubnetIDs,
			SecurityGroupIds: e.cfg.SecurityGroupIDs,
		},
		Tags: map[string]string{"managed-by": "sprout-ci"},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil, fmt.Errorf("%w: %s", ErrClusterExists, spec.Name)
		}
		return nil, wrapAWS("CreateCluster", err)
	}
	return fromEKSCluster(out.Cluster), nil
}

func (e *EKS) DescribeCluster(ctx context.Context, name string) (*Cluster, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	out, err := e.api.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
		}
		return nil, wrapAWS("DescribeCluster", err)
	}
	return fromEKSCluster(out.Cluster), nil
}

func (e *EKS) EnsureNodegroup(ctx context.Context, spec ClusterSpec) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	_, err := e.api.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(spec.Name),
		NodegroupName: aws.String(defaultNodegroupName),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return wrapAWS("DescribeNodegroup", err)
	}

	nodeType := spec.NodeType
	if nodeType == "" {
		nodeType = defaultNodeType
	}
	desired := spec.DesiredCapacity
	if desired <= 0 {
		desired = defaultDesiredNodes
	}
	_, err = e.api.CreateNodegroup(ctx, &eks.CreateNodegroupInput{
		ClusterName:   aws.String(spec.Name),
		NodegroupName: aws.String(defaultNodegroupName),
		NodeRole:      aws.String(e.cfg.NodeRoleARN),
		Subnets:       e.cfg.SubnetIDs,
		InstanceTypes: []string{nodeType},
		ScalingConfig: &types.NodegroupScalingConfig{
			DesiredSize: aws.Int32(desired),
			MinSize:     aws.Int32(1),
			MaxSize:     aws.Int32(max(desired, 1) * 2),
		},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return wrapAWS("CreateNodegroup", err)
	}
	return nil
}

func fromEKSCluster(c *types.Cluster) *Cluster {
	if c == nil {
		return &Cluster{}
	}
	out := &Cluster{
		Name:     aws.ToString(c.Name),
		Status:   string(c.Status),
		Version:  aws.ToString(c.Version),
		Endpoint: aws.ToString(c.Endpoint),
	}
	if c.Identity != nil && c.Identity.Oidc != nil {
		out.OIDCIssuer = aws.ToString(c.Identity.Oidc.Issuer)
	}
	if c.CertificateAuthority != nil {
		out.CAData = aws.ToString(c.CertificateAuthority.Data)
	}
	return out
}

func wrapAWS(op string, err error) error {
	ext := &apperrors.ExternalServiceError{Service: eksService, Op: op, Err: err}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		ext.StatusCode = respErr.HTTPStatusCode()
	}
	return ext
}
