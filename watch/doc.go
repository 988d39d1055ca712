// Package watch follows a file and reports its content whenever it changes.
//
//	changes, err := watch.File(ctx, "cell.py")
//	for code := range changes {
//	    mgr.Execute(ctx, "main", string(code))
//	}
//
// The parent directory is watched with fsnotify so that editors which
// replace the file on save are followed. When fsnotify is unavailable the
// file is polled.
package watch
