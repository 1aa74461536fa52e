package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-srbc/engine/assets/loaders"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

var ErrClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path string
	Type loaders.ResourceType
	/** @brief The shader program the file belongs to. Only set for shader modules. */
	Shader     string
	LastLoaded time.Time
}

/** @brief Called with the full module list of a shader whose files changed. */
type ShaderChangedFunc func(shader string, modules []metadata.ShaderModule)

/**
 * @brief Indexes the asset directory and watches it. Shader module edits are
 * reported through the shader changed callback, from the watcher goroutine.
 */
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[loaders.ResourceType]Loader

	mutex sync.RWMutex

	done            chan struct{}
	stopped         chan struct{}
	fsnotify        *fsnotify.Watcher
	isClosed        bool
	started         bool
	onShaderChanged ShaderChangedFunc
	watchErrors     uint64
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[loaders.ResourceType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	am.registerLoader(loaders.ResourceTypeSpirv, &loaders.SpirvLoader{})
	am.registerLoader(loaders.ResourceTypeWGSL, &loaders.ShaderLoader{})
	am.registerLoader(loaders.ResourceTypeRegistryConfig, &loaders.RegistryConfigLoader{})
	am.registerLoader(loaders.ResourceTypeBindingLayout, &loaders.BindingLayoutLoader{})
	am.registerLoader(loaders.ResourceTypeImage, &loaders.TextureLoader{})
	return am, nil
}

// Initialize indexes assetsDir and starts watching it and its sub-directories.
func (am *AssetManager) Initialize(assetsDir string) error {
	am.mutex.RLock()
	started := am.started
	am.mutex.RUnlock()
	if started {
		return core.ErrAlreadyInitialized
	}
	if err := am.addRecursive(assetsDir); err != nil {
		return err
	}
	am.mutex.Lock()
	am.started = true
	am.mutex.Unlock()
	go am.start()
	core.LogInfo("watching assets in %s (%d files)", assetsDir, len(am.Assets()))
	return nil
}

// OnShaderChanged sets the shader changed callback. Call before Initialize.
func (am *AssetManager) OnShaderChanged(fn ShaderChangedFunc) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.onShaderChanged = fn
}

// addRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	am.mutex.RLock()
	closed := am.isClosed
	am.mutex.RUnlock()
	if closed {
		return ErrClosed
	}
	return am.watchRecursive(name, false)
}

// Unwatch stops watching dir and its sub-directories and drops their files from the index.
func (am *AssetManager) Unwatch(dir string) error {
	return am.watchRecursive(dir, true)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads an indexed file with the loader of its type.
func (am *AssetManager) LoadAsset(path string) (*loaders.Resource, error) {
	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("asset not found: %s", path)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Load(path)
}

// ShaderModules loads every indexed module of shader, ordered by path.
func (am *AssetManager) ShaderModules(shader string) ([]metadata.ShaderModule, error) {
	am.mutex.RLock()
	var paths []string
	for p, a := range am.assets {
		if a.Shader == shader {
			paths = append(paths, p)
		}
	}
	am.mutex.RUnlock()
	if len(paths) == 0 {
		return nil, fmt.Errorf("no modules for shader '%s'", shader)
	}
	sort.Strings(paths)

	var modules []metadata.ShaderModule
	for _, p := range paths {
		res, err := am.LoadAsset(p)
		if err != nil {
			return nil, err
		}
		modules = append(modules, res.Data.([]metadata.ShaderModule)...)
	}
	return modules, nil
}

// LoadShader builds a program description from the modules of name. The
// program id is left to the caller.
func (am *AssetManager) LoadShader(name string) (*metadata.Shader, error) {
	modules, err := am.ShaderModules(name)
	if err != nil {
		return nil, err
	}
	return &metadata.Shader{
		Name:    name,
		State:   metadata.SHADER_STATE_UNINITIALIZED,
		Modules: modules,
	}, nil
}

// Assets lists the index, ordered by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (am *AssetManager) WatchErrors() uint64 {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return am.watchErrors
}

// Shutdown stops the watcher. Safe to call more than once.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	started := am.started
	am.mutex.Unlock()
	if !started {
		return am.fsnotify.Close()
	}
	close(am.done)
	<-am.stopped
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("cannot watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(e.Name) {
					am.shaderChanged(e.Name)
				}
			}
			// A removed path may have been a directory, so it is always dropped from the watch list.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if am.removeAsset(e.Name) {
					am.shaderChanged(e.Name)
				}
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			am.mutex.Lock()
			am.watchErrors++
			am.mutex.Unlock()
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// shaderChanged reloads the shader owning path and hands it to the callback.
func (am *AssetManager) shaderChanged(path string) {
	am.mutex.RLock()
	fn := am.onShaderChanged
	am.mutex.RUnlock()
	if fn == nil {
		return
	}
	shader := loaders.ShaderName(path)
	modules, err := am.ShaderModules(shader)
	if err != nil {
		core.LogWarn("shader '%s' changed but cannot be reloaded: %s", shader, err)
		return
	}
	core.LogInfo("shader '%s' changed on disk, %d modules", shader, len(modules))
	fn(shader, modules)
}

// watchRecursive adds all directories under the given one to the watch list.
// Files created before the watch is added are picked up by the walk itself.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		if unWatch {
			am.removeAsset(walkPath)
		} else {
			am.handleFileEvent(walkPath)
		}
		return nil
	})
}

// Handle the creation or modification of a file. Reports whether it is a shader module.
func (am *AssetManager) handleFileEvent(path string) bool {
	assetType := loaders.ResourceTypeFromPath(path)
	if assetType == loaders.ResourceTypeNone {
		return false
	}
	info := AssetInfo{
		Path: path,
		Type: assetType,
	}
	if assetType.IsShader() {
		info.Shader = loaders.ShaderName(path)
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = info
	return assetType.IsShader()
}

// Remove the asset from the index if it was deleted. Reports whether it was a shader module.
func (am *AssetManager) removeAsset(path string) bool {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	a, ok := am.assets[path]
	delete(am.assets, path)
	return ok && a.Type.IsShader()
}
