package ignore

// IgnoreFileName is the gitignore-style rules file read from the scan root.
const IgnoreFileName = ".idxignore"

// DefaultExcludePatterns are path components never worth cataloging. The list
// is deliberately short: the tool's job is to record what is there, so only
// virtual and ephemeral filesystem state is dropped by default.
var DefaultExcludePatterns = []string{
	"proc",
	"sys",
	"lost+found",
}
