package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       loaders.ResourceType
	LastLoaded time.Time
}

// AssetManager indexes the files under a root directory by type, loads them
// on demand and drops cached copies when the files change on disk.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	cache   map[string]*loaders.Resource
	loaders map[loaders.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan string
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		cache:    make(map[string]*loaders.Resource),
		loaders:  make(map[loaders.ResourceType]Loader),
		fsnotify: fsWatch,
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(loaders.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(loaders.ResourceTypeImage, &loaders.ImageLoader{})
	am.registerLoader(loaders.ResourceTypeMesh, &loaders.ModelLoader{})
	am.registerLoader(loaders.ResourceTypeMaterial, &loaders.MaterialLoader{})
	return am, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	am.root = root

	if err := am.watchRecursive(root, false); err != nil {
		return err
	}
	go am.start()
	core.LogInfo("asset directory indexed", "root", root, "assets", am.Count())
	return nil
}

// Changes delivers the relative paths of indexed assets modified on disk.
func (am *AssetManager) Changes() <-chan string {
	return am.changes
}

// Count returns the number of indexed assets.
func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Info returns the index entry of path.
func (am *AssetManager) Info(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[am.key(path)]
	return info, ok
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads path with the loader registered for its type. Paths are
// relative to the asset root; files outside the index are loaded directly
// when their extension is known.
func (am *AssetManager) LoadAsset(path string, params any) (*loaders.Resource, error) {
	key := am.key(path)

	am.mutex.RLock()
	asset, exists := am.assets[key]
	cached := am.cache[key]
	am.mutex.RUnlock()
	if cached != nil {
		return cached, nil
	}
	if !exists {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, path)
		}
		asset = AssetInfo{Path: path, Type: determineAssetType(path)}
		key = path
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}

	res, err := loader.Load(am.fullPath(asset.Path), params)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	asset.LastLoaded = time.Now()
	if exists {
		am.assets[key] = asset // Update the loaded time
	}
	if params == nil {
		am.cache[key] = res
	}
	am.mutex.Unlock()
	return res, nil
}

func (am *AssetManager) UnloadAsset(asset *loaders.Resource) error {
	if asset == nil {
		return nil
	}
	am.mutex.Lock()
	for k, r := range am.cache {
		if r == asset {
			delete(am.cache, k)
		}
	}
	am.mutex.Unlock()
	if loader, ok := am.loaders[asset.Type]; ok {
		return loader.Unload(asset)
	}
	return nil
}

func (am *AssetManager) LoadMesh(path string) (*scene.MeshData, error) {
	res, err := am.loadTyped(path, loaders.ResourceTypeMesh)
	if err != nil {
		return nil, err
	}
	return res.Data.(*scene.MeshData), nil
}

func (am *AssetManager) LoadMaterial(path string) (scene.Material, error) {
	res, err := am.loadTyped(path, loaders.ResourceTypeMaterial)
	if err != nil {
		return scene.Material{}, err
	}
	return res.Data.(scene.Material), nil
}

func (am *AssetManager) LoadShader(path string) ([]byte, error) {
	res, err := am.loadTyped(path, loaders.ResourceTypeShader)
	if err != nil {
		return nil, err
	}
	return res.Data.([]byte), nil
}

func (am *AssetManager) LoadImage(path string) (*loaders.ImageData, error) {
	res, err := am.loadTyped(path, loaders.ResourceTypeImage)
	if err != nil {
		return nil, err
	}
	return res.Data.(*loaders.ImageData), nil
}

func (am *AssetManager) loadTyped(path string, want loaders.ResourceType) (*loaders.Resource, error) {
	if got := determineAssetType(path); got != want {
		return nil, fmt.Errorf("%s is not a %s asset", path, want)
	}
	return am.LoadAsset(path, nil)
}

// Close stops the watcher. It is safe to call more than once.
func (am *AssetManager) Close() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	close(am.done)
	if am.root == "" {
		return am.fsnotify.Close()
	}
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
						core.LogWarn("failed to watch new directory", "dir", e.Name, "error", err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				// Can't stat a deleted directory, so try to drop it from the watch list anyway
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher error", "error", err)

		case <-am.done:
			am.fsnotify.Close()
			close(am.changes)
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files it finds.
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
		am.index(walkPath)
		return nil
	})
}

func (am *AssetManager) index(path string) (string, bool) {
	assetType := determineAssetType(path)
	if assetType == loaders.ResourceTypeNone {
		return "", false
	}
	key := am.key(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	_, known := am.assets[key]
	am.assets[key] = AssetInfo{Path: key, Type: assetType}
	delete(am.cache, key)
	return key, known
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	key, known := am.index(path)
	if key == "" {
		return
	}
	if known {
		core.LogInfo("asset changed on disk", "asset", key)
	} else {
		core.LogDebug("asset added", "asset", key)
	}
	am.notify(key)
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	key := am.key(path)
	am.mutex.Lock()
	_, known := am.assets[key]
	delete(am.assets, key)
	delete(am.cache, key)
	am.mutex.Unlock()
	if known {
		core.LogInfo("asset removed", "asset", key)
		am.notify(key)
	}
}

func (am *AssetManager) notify(key string) {
	select {
	case am.changes <- key:
	default:
		core.LogDebug("asset change dropped, channel full", "asset", key)
	}
}

// key maps absolute paths under the root to root-relative ones.
func (am *AssetManager) key(path string) string {
	if am.root == "" || !filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if rel, err := filepath.Rel(am.root, path); err == nil {
		return rel
	}
	return path
}

func (am *AssetManager) fullPath(key string) string {
	if am.root == "" || filepath.IsAbs(key) {
		return key
	}
	full := filepath.Join(am.root, key)
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return key
}

func determineAssetType(path string) loaders.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return loaders.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif", ".webp":
		return loaders.ResourceTypeImage
	case ".amt":
		return loaders.ResourceTypeMaterial
	case ".obj":
		return loaders.ResourceTypeMesh
	default:
		return loaders.ResourceTypeNone
	}
}
