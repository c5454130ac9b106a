package sync

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"drivesync/internal/fs"
	"drivesync/internal/meta"

	mapset "github.com/deckarep/golang-set/v2"
)

// decision 是对两侧同名条目的比较结果
type decision int

const (
	decideSkip     decision = iota // 时间相同, 不处理
	decideLocal                    // 本地较新
	decideRemote                   // 远端较新
	decideMismatch                 // 一侧是文件夹, 一侧是文件
)

// toRemoteEntries normalizes a folder listing. Items whose name is not a
// single path element are logged and dropped. The first item with a given
// name wins; later duplicates are logged and dropped. A timestamp that cannot
// be parsed fails the whole listing.
func toRemoteEntries(items []*fs.RemoteItem, scope string) (map[string]RemoteEntry, error) {
	entries := make(map[string]RemoteEntry, len(items))
	for _, it := range items {
		if !validName(it.Name) {
			slog.Warn("远端条目名称无法映射为本地路径, 跳过",
				"scope", scope,
				"name", it.Name,
				"id", it.ID,
			)
			continue
		}
		if prev, ok := entries[it.Name]; ok {
			slog.Warn("远端存在重名条目, 忽略后者",
				"scope", scope,
				"name", it.Name,
				"kept", prev.EntryID(),
				"ignored", it.ID,
			)
			continue
		}

		epoch, err := meta.ToEpoch(it.ModifiedTime)
		if err != nil {
			return nil, fmt.Errorf("remote item %s (%q): %w", it.ID, it.Name, err)
		}

		if it.IsFolder {
			entries[it.Name] = &RemoteFolder{ID: it.ID, Name: it.Name, ModifiedAt: epoch}
		} else {
			entries[it.Name] = &RemoteFile{ID: it.ID, Name: it.Name, ModifiedAt: epoch}
		}
	}
	return entries, nil
}

// validName 名称必须是单个路径段, 不能跳出当前目录
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator)
}

func toLocalIndex(entries []*fs.LocalEntry) map[string]*fs.LocalEntry {
	idx := make(map[string]*fs.LocalEntry, len(entries))
	for _, e := range entries {
		idx[e.Name] = e
	}
	return idx
}

// partition splits the names of one folder scope into names on both sides,
// names only on the remote and names only local. Each slice is sorted.
func partition(local map[string]*fs.LocalEntry, remote map[string]RemoteEntry) (common, onlyRemote, onlyLocal []string) {
	localNames := mapset.NewThreadUnsafeSetFromMapKeys(local)
	remoteNames := mapset.NewThreadUnsafeSetFromMapKeys(remote)

	common = sorted(localNames.Intersect(remoteNames))
	onlyRemote = sorted(remoteNames.Difference(localNames))
	onlyLocal = sorted(localNames.Difference(remoteNames))
	return common, onlyRemote, onlyLocal
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

// compare 比较同名条目: 只看秒级时间戳, 相同即视为一致
func compare(local *fs.LocalEntry, remote RemoteEntry) decision {
	_, remoteIsFolder := remote.(*RemoteFolder)
	if local.IsDir != remoteIsFolder {
		return decideMismatch
	}

	switch l, r := local.ModifiedAt, remote.ModifiedAtEpoch(); {
	case l > r:
		return decideLocal
	case r > l:
		return decideRemote
	default:
		return decideSkip
	}
}
