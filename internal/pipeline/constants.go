package pipeline

// DefaultMaxBatchSize bounds the number of transactions in one model call
// when a BatchProcessor is built without a full config.
const DefaultMaxBatchSize = 50
