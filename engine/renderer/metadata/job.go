package metadata

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific thread requirements.
	 * This means it matters little which job thread this job runs on.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief A resource resolution job. Its result is handed back to the GPU
	 * thread through a resolve queue and never touches the backend directly.
	 */
	JOB_TYPE_RESOURCE_LOAD JobType = 0x04
)

/**
 * @brief Determines how soon a job should be picked up.
 */
type JobPriority int

const (
	JOB_PRIORITY_LOW JobPriority = iota
	JOB_PRIORITY_NORMAL
	JOB_PRIORITY_HIGH
)

/**
 * @brief A unit of work for the job system.
 */
type JobTask struct {
	ID       string
	JobType  JobType
	Priority JobPriority
	/** @brief Passed to OnStart. */
	InputParams interface{}
	/** @brief Required. Writes its result (if any) to out. */
	OnStart func(params interface{}, out chan<- interface{}) error
	/** @brief Called with the result produced by OnStart on success. Optional. */
	OnComplete func(result interface{})
	/** @brief Called with the error returned by OnStart. Optional. */
	OnFailure func(err error)
	/** @brief Called after either outcome. Optional. */
	OnCompletionCallback func()
}
