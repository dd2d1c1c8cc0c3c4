package constants

import "time"

// Part sizing
const (
	// DefaultPreferredPartSize - default target size for a transfer part (10 MB)
	DefaultPreferredPartSize = 10 * 1024 * 1024

	// MinPartSize - smallest part size honored from a server-communicated minimum (5 MB)
	MinPartSize = 5 * 1024 * 1024

	// MaxPartSize - largest part size honored from a server-communicated maximum (5 GB)
	MaxPartSize = 5 * 1024 * 1024 * 1024
)

// Retry configuration (defaults for RetryPolicy, §4.2)
const (
	RetryMaxDurationMs   = 60000
	RetryInitialDelay    = 100 * time.Millisecond
	RetryBackoff         = 2.0
	RetryJitterMax       = 100 * time.Millisecond
	RetrySocketTimeoutMs = 30000
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for a subscriber's event channel
	EventBusDefaultBuffer = 1000
)

// Pipeline Queues
const (
	// DefaultQueueMultiplier - BoundedQueue capacity = maxConcurrent * multiplier
	DefaultQueueMultiplier = 2

	// MaxQueueSize - absolute cap on a BoundedQueue's capacity
	MaxQueueSize = 1000
)

// Resource Manager - Thread Limits
const (
	// MaxBaselineThreads - cap on threads derived from CPU core count
	MaxBaselineThreads = 16

	// AbsoluteMaxThreads - absolute maximum threads allowed regardless of CPU/memory
	AbsoluteMaxThreads = 32

	// MemoryPerThreadMB - estimated memory usage per thread, used to cap
	// thread count against available system memory (128 MB)
	MemoryPerThreadMB = 128

	// MinThreadsPerFile / MaxThreadsPerFile - per-asset concurrency bounds
	MinThreadsPerFile = 1
	MaxThreadsPerFile = 16
)

// Resource Manager - File Size Thresholds used for tiered concurrency budgeting
const (
	SmallFileThreshold  = 100 * 1024 * 1024
	MediumFileThreshold = 500 * 1024 * 1024
	LargeFile1GB        = 1 * 1024 * 1024 * 1024
	LargeFile5GB        = 5 * 1024 * 1024 * 1024
	LargeFile10GB       = 10 * 1024 * 1024 * 1024
)

// Resource Manager - Thread Allocation (baseline, non-aggressive)
const (
	ThreadsForSmallFiles  = 1
	ThreadsForMediumFiles = 2
	ThreadsForLargeFiles  = 3
)

// Resource Manager - Thread Allocation (aggressive mode, high-bandwidth links)
const (
	ThreadsFor500MBto1GB = 4
	ThreadsFor1GBto5GB   = 8
	ThreadsFor5GBto10GB  = 12
	ThreadsFor10GBPlus   = 16
)

// Resource Manager - Throughput Monitoring
const (
	MaxThroughputSamples      = 10
	MinScaleUpThroughputMBps  = 10.0
	MaxScaleUpVarianceMBps    = 2.0
	ScaleDownThresholdPercent = 0.8
)

// System Memory Limits
const (
	MinSystemMemory = 512 * 1024 * 1024
	MaxSystemMemory = 8 * 1024 * 1024 * 1024
)

// HTTP Client Timeouts
const (
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 60 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
)

// Pipeline Timeouts
const (
	// PipelineTickerInterval - interval for driving periodic progress events
	PipelineTickerInterval = 2 * time.Second

	// MaxOperationTimeout - absolute ceiling for a single asset's transfer
	MaxOperationTimeout = 4 * time.Hour
)

// AEM control-plane client
const (
	// AemInitiateBatchSize - maximum assets batched into a single initiateUpload call
	AemInitiateBatchSize = 100
)

// Disk space
const (
	// DiskSpaceSafetyMargin - multiplier applied to a download's content
	// length before comparing against free disk space, leaving headroom
	// for filesystem block rounding and concurrent writers
	DiskSpaceSafetyMargin = 1.05
)
