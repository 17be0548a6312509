// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/cos-lib/status"
)

// Status reduces the snapshot to a single unit status. Conditions are
// checked in severity order and the first hit wins: resource patching,
// then an empty cluster, an incoherent one, conflicting worker config
// versions, missing object storage, an unsupported worker version,
// and finally a coherent but under-provisioned fleet. The last two
// stay active with an explanatory note; they degrade service to part
// of the fleet without taking the coordinator down.
func (c *Coordinator) Status(snap *Snapshot) status.StatusInfo {
	return c.reduceStatus(snap, c.Coherency(snap))
}

func (c *Coordinator) reduceStatus(snap *Snapshot, verdict Verdict) status.StatusInfo {
	if c.config.ResourcePatch != nil {
		if info := c.config.ResourcePatch.Status(); info.Status != status.Active {
			return info
		}
	}
	if !snap.HasWorkers {
		return status.StatusInfo{
			Status:  status.Blocked,
			Message: status.ConsistencyTag + " Missing any worker relation.",
		}
	}
	if !verdict.Coherent {
		return status.StatusInfo{
			Status:  status.Blocked,
			Message: status.ConsistencyTag + " Cluster inconsistent.",
		}
	}
	versions := distinctVersions(snap.WorkerVersions)
	if len(c.config.VersionedBuilders) > 0 && len(versions) > 1 {
		return status.StatusInfo{
			Status: status.Blocked,
			Message: fmt.Sprintf("%s Workers request conflicting config versions: %s.",
				status.ConsistencyTag, strings.Join(versions, ", ")),
		}
	}
	if !c.s3Ready() {
		return status.StatusInfo{
			Status:  status.Blocked,
			Message: status.ConsistencyTag + " Missing S3 integration.",
		}
	}
	if len(c.config.VersionedBuilders) > 0 && len(versions) == 1 {
		if _, err := Negotiate(c.config.VersionedBuilders, snap.WorkerVersions); errors.Is(err, ErrUnsupportedVersion) {
			return status.StatusInfo{
				Status:  status.Active,
				Message: fmt.Sprintf("%s Unsupported worker version: %s.", status.CoordinatorTag, versions[0]),
			}
		}
	}
	if verdict.Recommended != nil && !*verdict.Recommended {
		return status.StatusInfo{
			Status:  status.Active,
			Message: status.CoordinatorTag + " Degraded.",
		}
	}
	return status.StatusInfo{Status: status.Active}
}
