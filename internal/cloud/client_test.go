package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeMeta struct {
	doc   imds.InstanceIdentityDocument
	err   error
	calls int
}

func (f *fakeMeta) GetInstanceIdentityDocument(context.Context, *imds.GetInstanceIdentityDocumentInput, ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &imds.GetInstanceIdentityDocumentOutput{InstanceIdentityDocument: f.doc}, nil
}

type fakeGroups struct {
	groupName string
	group     asgtypes.AutoScalingGroup
	err       error
}

func (f *fakeGroups) DescribeAutoScalingInstances(_ context.Context, in *autoscaling.DescribeAutoScalingInstancesInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.groupName == "" {
		return &autoscaling.DescribeAutoScalingInstancesOutput{}, nil
	}
	return &autoscaling.DescribeAutoScalingInstancesOutput{
		AutoScalingInstances: []asgtypes.AutoScalingInstanceDetails{{
			InstanceId:           aws.String(in.InstanceIds[0]),
			AutoScalingGroupName: aws.String(f.groupName),
		}},
	}, nil
}

func (f *fakeGroups) DescribeAutoScalingGroups(context.Context, *autoscaling.DescribeAutoScalingGroupsInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: []asgtypes.AutoScalingGroup{f.group},
	}, nil
}

type fakeCompute struct {
	instances []ec2types.Instance
	tags      map[string]string
	err       error
}

func (f *fakeCompute) DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: f.instances}},
	}, nil
}

func (f *fakeCompute) DescribeTags(_ context.Context, in *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	var key string
	for _, flt := range in.Filters {
		if aws.ToString(flt.Name) == "key" && len(flt.Values) > 0 {
			key = flt.Values[0]
		}
	}
	v, ok := f.tags[key]
	if !ok {
		return &ec2.DescribeTagsOutput{}, nil
	}
	return &ec2.DescribeTagsOutput{
		Tags: []ec2types.TagDescription{{Key: aws.String(key), Value: aws.String(v)}},
	}, nil
}

type fakeParams struct {
	values map[string]string
	getErr error
	putErr error
}

func (f *fakeParams) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func (f *fakeParams) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	name := aws.ToString(in.Name)
	if _, ok := f.values[name]; ok {
		return nil, &ssmtypes.ParameterAlreadyExists{}
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[name] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func TestResolveNodeIdentity(t *testing.T) {
	meta := &fakeMeta{doc: imds.InstanceIdentityDocument{
		InstanceID:       "i-0abc",
		PrivateIP:        "10.0.1.5",
		AvailabilityZone: "us-east-1a",
		Region:           "us-east-1",
	}}
	c := newClient(meta, nil, nil, nil, "us-east-1")

	id, err := c.ResolveNodeIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, NodeIdentity{
		InstanceID:       "i-0abc",
		PrivateIP:        "10.0.1.5",
		AvailabilityZone: "us-east-1a",
		Region:           "us-east-1",
	}, id)

	// Memoized: the endpoint is hit once per process.
	_, err = c.ResolveNodeIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, meta.calls)
}

func TestResolveNodeIdentity_Unavailable(t *testing.T) {
	c := newClient(&fakeMeta{err: errors.New("conn refused")}, nil, nil, nil, "us-east-1")
	_, err := c.ResolveNodeIdentity(context.Background())
	require.ErrorIs(t, err, ErrMetadataUnavailable)
}

func TestResolveNodeIdentity_MalformedDocument(t *testing.T) {
	c := newClient(&fakeMeta{}, nil, nil, nil, "us-east-1")
	_, err := c.ResolveNodeIdentity(context.Background())
	require.ErrorIs(t, err, ErrMetadataUnavailable)
}

func TestGroupForInstance(t *testing.T) {
	c := newClient(nil, &fakeGroups{groupName: "workers-asg"}, nil, nil, "us-east-1")
	name, err := c.GroupForInstance(context.Background(), "i-0abc")
	require.NoError(t, err)
	require.Equal(t, "workers-asg", name)
}

func TestGroupForInstance_NotInGroup(t *testing.T) {
	c := newClient(nil, &fakeGroups{}, nil, nil, "us-east-1")
	_, err := c.GroupForInstance(context.Background(), "i-0abc")
	require.ErrorIs(t, err, ErrDirectoryLookup)
}

func TestResolveMembership(t *testing.T) {
	groups := &fakeGroups{group: asgtypes.AutoScalingGroup{
		DesiredCapacity: aws.Int32(3),
		Instances: []asgtypes.Instance{
			{InstanceId: aws.String("i-002")},
			{InstanceId: aws.String("i-001")},
			{InstanceId: aws.String("i-003")},
		},
	}}
	// i-003 has no EC2 record yet: still starting.
	compute := &fakeCompute{instances: []ec2types.Instance{
		{
			InstanceId:       aws.String("i-001"),
			PrivateIpAddress: aws.String("10.0.1.1"),
			Placement:        &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
		},
		{
			InstanceId:       aws.String("i-002"),
			PrivateIpAddress: aws.String("10.0.1.2"),
			Placement:        &ec2types.Placement{AvailabilityZone: aws.String("us-east-1b")},
		},
	}}
	c := newClient(nil, groups, compute, nil, "us-east-1")

	m, err := c.ResolveMembership(context.Background(), "workers-asg")
	require.NoError(t, err)
	require.Equal(t, 3, m.DesiredCapacity)
	require.Equal(t, 3, m.Size())

	byID := map[string]NodeIdentity{}
	for _, n := range m.Members {
		byID[n.InstanceID] = n
	}
	require.Equal(t, "10.0.1.1", byID["i-001"].PrivateIP)
	require.Equal(t, "us-east-1b", byID["i-002"].AvailabilityZone)
	// Present with ID only; enough for the rally choice.
	require.Equal(t, "", byID["i-003"].PrivateIP)
	require.Equal(t, "us-east-1", byID["i-003"].Region)
}

func TestClusterTag(t *testing.T) {
	compute := &fakeCompute{tags: map[string]string{"rallypoint:cluster": "prod-workers"}}
	c := newClient(nil, nil, compute, nil, "us-east-1")

	v, err := c.ClusterTag(context.Background(), "i-0abc", "rallypoint:cluster")
	require.NoError(t, err)
	require.Equal(t, "prod-workers", v)
}

func TestClusterTag_Missing(t *testing.T) {
	c := newClient(nil, nil, &fakeCompute{}, nil, "us-east-1")
	_, err := c.ClusterTag(context.Background(), "i-0abc", "rallypoint:cluster")
	require.ErrorIs(t, err, ErrDirectoryLookup)
}

func TestResolveMembership_LookupFailure(t *testing.T) {
	c := newClient(nil, &fakeGroups{err: errors.New("throttled")}, nil, nil, "us-east-1")
	_, err := c.ResolveMembership(context.Background(), "workers-asg")
	require.ErrorIs(t, err, ErrDirectoryLookup)
}

func TestParameters_RoundTripAndSentinels(t *testing.T) {
	params := &fakeParams{}
	c := newClient(nil, nil, nil, params, "us-east-1")
	ctx := context.Background()

	_, _, err := c.GetParameter(ctx, "/rallypoint/c/bootstrap")
	require.ErrorIs(t, err, ErrParameterNotFound)

	require.NoError(t, c.CreateParameter(ctx, "/rallypoint/c/bootstrap", "v1"))

	err = c.CreateParameter(ctx, "/rallypoint/c/bootstrap", "v2")
	require.ErrorIs(t, err, ErrParameterExists)

	v, _, err := c.GetParameter(ctx, "/rallypoint/c/bootstrap")
	require.NoError(t, err)
	require.Equal(t, "v1", v)
}
