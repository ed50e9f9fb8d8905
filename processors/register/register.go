// Package register registers all processor models.
package register

import (
	// register processors.
	_ "go.viam.com/depthcloud/processors/depthconverter"
	_ "go.viam.com/depthcloud/processors/jsonwriter"
	_ "go.viam.com/depthcloud/processors/pairwiseregistration"
)
