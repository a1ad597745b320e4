// Package init triggers VCS provider registration via import side-effects.
//
//	import _ "github.com/sanix-darker/mpr/internal/vcs/init"
package init

import (
	_ "github.com/sanix-darker/mpr/internal/vcs/github"
	_ "github.com/sanix-darker/mpr/internal/vcs/gitlab"
)
