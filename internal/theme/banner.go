// Package theme renders the CLI banner.
package theme

import (
	"fmt"
)

// Banner returns the mirrorsync banner.
func Banner() string {
	const cyan = "\033[36m"
	const reset = "\033[0m"

	return cyan + "  ┌┬┐┬┬─┐┬─┐┌─┐┬─┐┌─┐┬ ┬┌┐┌┌─┐\n" +
		"  │││││┬┘├┬┘│ │├┬┘└─┐└┬┘││││\n" +
		"  ┴ ┴┴┴└─┴└─└─┘┴└─└─┘ ┴ ┘└┘└─┘" + reset + "\n" +
		"  incremental profile mirror\n"
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
