package cli

import "flag"

func (c *Config) registerFlagsOsSpecific(fs *flag.FlagSet) {
	fs.StringVar(&c.BtAdapterID, "bt-adapter", "", "ID of the Bluetooth adapter to use. Defaults to $BTWATTCH_BT_ADAPTER or hci0.")
}
