// Package cloud is the read-mostly client for the cloud directory: instance
// metadata (who am I), autoscaling groups (who else is there) and the shared
// parameter store (the coordination medium). All other packages reach the
// cloud only through this client.
package cloud

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	gocache "github.com/patrickmn/go-cache"
)

// Narrow views over the AWS clients so the assembly logic is testable with
// in-process fakes.
type metadataAPI interface {
	GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

type groupsAPI interface {
	DescribeAutoScalingInstances(ctx context.Context, params *autoscaling.DescribeAutoScalingInstancesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingInstancesOutput, error)
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

type computeAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeTags(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
}

type parameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const (
	memoIdentityKey = "identity"
	memoGroupPrefix = "group:"

	memoTTL = 5 * time.Minute
)

// Client resolves identity, membership and shared parameters. Identity and
// group-name lookups are memoized for the life of the process; membership is
// always fetched fresh.
type Client struct {
	meta   metadataAPI
	groups groupsAPI
	ec2    computeAPI
	params parameterAPI
	region string
	memo   *gocache.Cache
}

// New builds a Client from a resolved AWS configuration. The IMDS client
// performs the IMDSv2 token handshake internally: one short-lived session
// token, reused for subsequent metadata reads.
func New(cfg aws.Config) *Client {
	return &Client{
		meta:   imds.NewFromConfig(cfg),
		groups: autoscaling.NewFromConfig(cfg),
		ec2:    ec2.NewFromConfig(cfg),
		params: ssm.NewFromConfig(cfg),
		region: cfg.Region,
		memo:   gocache.New(memoTTL, 2*memoTTL),
	}
}

func newClient(meta metadataAPI, groups groupsAPI, compute computeAPI, params parameterAPI, region string) *Client {
	return &Client{
		meta:   meta,
		groups: groups,
		ec2:    compute,
		params: params,
		region: region,
		memo:   gocache.New(memoTTL, 2*memoTTL),
	}
}

// ResolveNodeIdentity reads this node's identity document from the metadata
// endpoint. A missing endpoint, a failed token handshake or a document
// without an instance ID all surface as ErrMetadataUnavailable.
func (c *Client) ResolveNodeIdentity(ctx context.Context) (NodeIdentity, error) {
	if v, ok := c.memo.Get(memoIdentityKey); ok {
		return v.(NodeIdentity), nil
	}
	out, err := c.meta.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return NodeIdentity{}, metadataErr("instance identity document", err)
	}
	doc := out.InstanceIdentityDocument
	if doc.InstanceID == "" {
		return NodeIdentity{}, metadataErr("identity document has no instance id", nil)
	}
	id := NodeIdentity{
		InstanceID:       doc.InstanceID,
		PrivateIP:        doc.PrivateIP,
		AvailabilityZone: doc.AvailabilityZone,
		Region:           doc.Region,
	}
	if id.Region == "" {
		id.Region = c.region
	}
	c.memo.SetDefault(memoIdentityKey, id)
	return id, nil
}

// GroupForInstance resolves the autoscaling group the given instance belongs
// to. Instances outside any group are a directory error: this agent only
// makes sense inside a managed fleet.
func (c *Client) GroupForInstance(ctx context.Context, instanceID string) (string, error) {
	memoKey := memoGroupPrefix + instanceID
	if v, ok := c.memo.Get(memoKey); ok {
		return v.(string), nil
	}
	out, err := c.groups.DescribeAutoScalingInstances(ctx, &autoscaling.DescribeAutoScalingInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", directoryErr("describe autoscaling instances", err)
	}
	for _, inst := range out.AutoScalingInstances {
		if aws.ToString(inst.InstanceId) == instanceID && aws.ToString(inst.AutoScalingGroupName) != "" {
			name := aws.ToString(inst.AutoScalingGroupName)
			c.memo.SetDefault(memoKey, name)
			return name, nil
		}
	}
	return "", directoryErr("describe autoscaling instances", errNotInGroup(instanceID))
}

// ResolveMembership returns a fresh snapshot of the group's members and its
// declared capacity. Members whose EC2 record is not visible yet (instances
// still starting) are kept with the instance ID only: the rally choice needs
// the ID, not the address.
func (c *Client) ResolveMembership(ctx context.Context, groupName string) (MembershipSet, error) {
	out, err := c.groups.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{groupName},
	})
	if err != nil {
		return MembershipSet{}, directoryErr("describe autoscaling group "+groupName, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return MembershipSet{}, directoryErr("describe autoscaling group "+groupName, errGroupNotFound(groupName))
	}
	group := out.AutoScalingGroups[0]

	set := MembershipSet{
		GroupName:       groupName,
		DesiredCapacity: int(aws.ToInt32(group.DesiredCapacity)),
	}
	var ids []string
	for _, inst := range group.Instances {
		if id := aws.ToString(inst.InstanceId); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return set, nil
	}

	details, err := c.describeMembers(ctx, ids)
	if err != nil {
		return MembershipSet{}, err
	}
	for _, id := range ids {
		if d, ok := details[id]; ok {
			set.Members = append(set.Members, d)
			continue
		}
		set.Members = append(set.Members, NodeIdentity{InstanceID: id, Region: c.region})
	}
	return set, nil
}

func (c *Client) describeMembers(ctx context.Context, ids []string) (map[string]NodeIdentity, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, directoryErr("describe instances", err)
	}
	details := make(map[string]NodeIdentity, len(ids))
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			id := aws.ToString(inst.InstanceId)
			if id == "" {
				continue
			}
			n := NodeIdentity{
				InstanceID: id,
				PrivateIP:  aws.ToString(inst.PrivateIpAddress),
				Region:     c.region,
			}
			if inst.Placement != nil {
				n.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
			}
			details[id] = n
		}
	}
	return details, nil
}

// ClusterTag reads the value of one tag key from the instance's tags. An
// absent tag is a directory error: the fleet's provisioning is expected to
// tag every member with its cluster.
func (c *Client) ClusterTag(ctx context.Context, instanceID, key string) (string, error) {
	out, err := c.ec2.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{instanceID}},
			{Name: aws.String("key"), Values: []string{key}},
		},
	})
	if err != nil {
		return "", directoryErr("describe tags", err)
	}
	for _, tag := range out.Tags {
		if aws.ToString(tag.Key) == key && aws.ToString(tag.Value) != "" {
			return aws.ToString(tag.Value), nil
		}
	}
	return "", directoryErr("describe tags", errTagMissing{instanceID: instanceID, key: key})
}

type errTagMissing struct {
	instanceID string
	key        string
}

func (e errTagMissing) Error() string {
	return "instance " + e.instanceID + " has no tag " + e.key
}

type errNotInGroup string

func (e errNotInGroup) Error() string {
	return "instance " + string(e) + " is not a member of any autoscaling group"
}

type errGroupNotFound string

func (e errGroupNotFound) Error() string {
	return "autoscaling group " + string(e) + " not found"
}
