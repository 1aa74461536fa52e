package vulkan

/**
 * @brief Descriptor counts of the binding table, per target.
 * @todo TODO: make configurable
 */
const (
	VULKAN_MAX_UNIFORM_BUFFERS uint32 = 16
	VULKAN_MAX_STORAGE_BUFFERS uint32 = 8
	VULKAN_MAX_TEXTURES        uint32 = 32
	VULKAN_MAX_IMAGES          uint32 = 8
)

/** @brief The number of bindings in the binding table set. */
const VULKAN_BINDING_TABLE_SIZE = VULKAN_MAX_UNIFORM_BUFFERS + VULKAN_MAX_STORAGE_BUFFERS + VULKAN_MAX_TEXTURES + VULKAN_MAX_IMAGES

/** @brief Max number of frames in flight, and of binding table sets. */
const VULKAN_MAX_FRAMES_IN_FLIGHT = 3

/** @brief Alignment reported when no device was queried. */
const VULKAN_DEFAULT_OFFSET_ALIGNMENT uint64 = 256
