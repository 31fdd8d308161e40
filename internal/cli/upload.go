package cli

import (
	"github.com/spf13/cobra"

	"nft-market-sync/internal/app"
)

var uploadOpts app.UploadOptions

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload an asset to IPFS, optionally with token metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Upload(cmd.Context(), uploadOpts)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadOpts.Path, "file", "", "File to upload")
	uploadCmd.Flags().StringVar(&uploadOpts.MimeType, "mime-type", "", "Content type (detected when empty)")
	uploadCmd.Flags().StringVar(&uploadOpts.Name, "name", "", "Token name; also uploads a metadata document")
	uploadCmd.Flags().StringVar(&uploadOpts.Description, "description", "", "Token description")
}
