package pointcloud

import (
	"go.viam.com/depthcloud/spatialmath"
)

// ApplyPose returns a copy of the cloud with every valid point moved by pose. Invalid points
// keep their slot so organized clouds stay organized.
func ApplyPose(cloud *Cloud, pose spatialmath.Pose) *Cloud {
	out := cloud.Clone()
	for i, p := range out.Points {
		if !p.IsValid() {
			continue
		}
		out.Points[i].Position = pose.TransformPoint(p.Position)
	}
	return out
}
